package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	repo "github.com/sekKerfBang/agriBusiness/internal/repository"

	"github.com/shopspring/decimal"
)

// CartUsecase は /cart の業務ロジック。在庫はここでは動かさない（引当なし）
type CartUsecase struct {
	cartRepo     repo.CartRepository
	cartItemRepo repo.CartItemRepository
	productRepo  repo.ProductRepository
}

func NewCartUsecase(
	cartRepo repo.CartRepository,
	cartItemRepo repo.CartItemRepository,
	productRepo repo.ProductRepository,
) *CartUsecase {
	return &CartUsecase{
		cartRepo:     cartRepo,
		cartItemRepo: cartItemRepo,
		productRepo:  productRepo,
	}
}

// 小計は常に現在価格
type CartItemOutput struct {
	ID          int64             `json:"id"`
	ProductID   int64             `json:"product_id"`
	Name        string            `json:"name"`
	Unit        string            `json:"unit"`
	UnitPrice   decimal.Decimal   `json:"unit_price"`
	Quantity    decimal.Decimal   `json:"quantity"`
	Subtotal    decimal.Decimal   `json:"subtotal"`
	StockStatus model.StockStatus `json:"stock_status"`
}

type CartOutput struct {
	ID    int64            `json:"id"`
	Items []CartItemOutput `json:"items"`
	Total decimal.Decimal  `json:"total"`
}

type SetQuantityOutput struct {
	Cart    CartOutput `json:"cart"`
	Warning string     `json:"warning,omitempty"`
}

func (u *CartUsecase) GetOrCreate(ctx context.Context, userID int64) (model.Cart, error) {
	if userID <= 0 {
		return model.Cart{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	cart, err := u.cartRepo.GetOrCreateByUserID(ctx, userID)
	if err != nil {
		return model.Cart{}, errDB
	}
	return cart, nil
}

func (u *CartUsecase) GetCart(ctx context.Context, userID int64) (CartOutput, error) {
	cart, err := u.GetOrCreate(ctx, userID)
	if err != nil {
		return CartOutput{}, err
	}
	return u.buildCartOutput(ctx, cart.ID)
}

// 同一商品は数量加算
func (u *CartUsecase) AddItem(ctx context.Context, userID int64, productID int64, qty decimal.Decimal) (CartOutput, error) {
	if productID <= 0 {
		return CartOutput{}, NewHTTPError(http.StatusBadRequest, "invalid product_id")
	}
	if !model.ValidQuantity(qty) {
		return CartOutput{}, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}

	cart, err := u.GetOrCreate(ctx, userID)
	if err != nil {
		return CartOutput{}, err
	}
	if _, err := u.purchasableProduct(ctx, productID); err != nil {
		return CartOutput{}, err
	}

	if err := u.cartItemRepo.UpsertAdd(ctx, cart.ID, productID, qty); err != nil {
		return CartOutput{}, errDB
	}
	return u.buildCartOutput(ctx, cart.ID)
}

// 作成・更新・削除はここだけで決める。
// qty<=0 は行削除、在庫超過は在庫まで丸めて警告を返す
func (u *CartUsecase) SetQuantity(ctx context.Context, userID int64, productID int64, qty decimal.Decimal) (SetQuantityOutput, error) {
	if productID <= 0 {
		return SetQuantityOutput{}, NewHTTPError(http.StatusBadRequest, "invalid product_id")
	}
	//小数4桁以上はDBで丸められて0になり得る
	if qty.IsPositive() && !model.ValidQuantity(qty) {
		return SetQuantityOutput{}, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}
	cart, err := u.GetOrCreate(ctx, userID)
	if err != nil {
		return SetQuantityOutput{}, err
	}

	existing, err := u.cartItemRepo.FindByCartAndProduct(ctx, cart.ID, productID)
	found := err == nil
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return SetQuantityOutput{}, errDB
	}

	if !qty.IsPositive() {
		if found {
			if err := u.cartItemRepo.DeleteByID(ctx, existing.ID); err != nil && !errors.Is(err, repo.ErrNotFound) {
				return SetQuantityOutput{}, errDB
			}
		}
		out, err := u.buildCartOutput(ctx, cart.ID)
		return SetQuantityOutput{Cart: out}, err
	}

	p, err := u.purchasableProduct(ctx, productID)
	if err != nil {
		return SetQuantityOutput{}, err
	}

	var warning string
	if qty.GreaterThan(p.Stock) {
		warning = fmt.Sprintf("only %s %s of %s available, quantity adjusted", p.Stock.String(), p.Unit, p.Name)
		qty = p.Stock
	}

	if found {
		if err := u.cartItemRepo.UpdateQuantity(ctx, existing.ID, qty); err != nil {
			return SetQuantityOutput{}, errDB
		}
	} else {
		_, err := u.cartItemRepo.Create(ctx, model.CartItem{CartID: cart.ID, ProductID: productID, Quantity: qty})
		if errors.Is(err, repo.ErrDuplicate) {
			// 同時追加に負けたら上書き
			it, ferr := u.cartItemRepo.FindByCartAndProduct(ctx, cart.ID, productID)
			if ferr != nil {
				return SetQuantityOutput{}, errDB
			}
			err = u.cartItemRepo.UpdateQuantity(ctx, it.ID, qty)
		}
		if err != nil {
			return SetQuantityOutput{}, errDB
		}
	}

	out, err := u.buildCartOutput(ctx, cart.ID)
	if err != nil {
		return SetQuantityOutput{}, err
	}
	return SetQuantityOutput{Cart: out, Warning: warning}, nil
}

// 現在数量 + delta を SetQuantity に渡す
func (u *CartUsecase) UpdateQuantity(ctx context.Context, userID int64, cartItemID int64, delta decimal.Decimal) (SetQuantityOutput, error) {
	item, err := u.ownedItem(ctx, userID, cartItemID)
	if err != nil {
		return SetQuantityOutput{}, err
	}
	return u.SetQuantity(ctx, userID, item.ProductID, item.Quantity.Add(delta))
}

func (u *CartUsecase) RemoveItem(ctx context.Context, userID int64, cartItemID int64) (CartOutput, error) {
	item, err := u.ownedItem(ctx, userID, cartItemID)
	if err != nil {
		return CartOutput{}, err
	}
	if err := u.cartItemRepo.DeleteByID(ctx, item.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return CartOutput{}, NewHTTPError(http.StatusNotFound, "not found")
		}
		return CartOutput{}, errDB
	}
	return u.buildCartOutput(ctx, item.CartID)
}

func (u *CartUsecase) Clear(ctx context.Context, cartID int64) error {
	if err := u.cartRepo.Clear(ctx, cartID); err != nil {
		return errDB
	}
	return nil
}

func (u *CartUsecase) Total(ctx context.Context, userID int64) (decimal.Decimal, error) {
	out, err := u.GetCart(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return out.Total, nil
}

// 他人の明細は存在しない扱い
func (u *CartUsecase) ownedItem(ctx context.Context, userID int64, cartItemID int64) (model.CartItem, error) {
	if cartItemID <= 0 {
		return model.CartItem{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cart, err := u.GetOrCreate(ctx, userID)
	if err != nil {
		return model.CartItem{}, err
	}
	item, err := u.cartItemRepo.FindByID(ctx, cartItemID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.CartItem{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return model.CartItem{}, errDB
	}
	if item.CartID != cart.ID {
		return model.CartItem{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	return item, nil
}

// 非公開・削除済み・在庫切れは ErrProductUnavailable
func (u *CartUsecase) purchasableProduct(ctx context.Context, productID int64) (model.Product, error) {
	p, err := u.productRepo.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Product{}, ErrProductUnavailable
	}
	if err != nil {
		return model.Product{}, errDB
	}
	if !p.IsPurchasable() {
		return model.Product{}, ErrProductUnavailable
	}
	return p, nil
}

func (u *CartUsecase) buildCartOutput(ctx context.Context, cartID int64) (CartOutput, error) {
	items, err := u.cartItemRepo.ListByCartID(ctx, cartID)
	if err != nil {
		return CartOutput{}, errDB
	}

	out := CartOutput{ID: cartID, Items: make([]CartItemOutput, 0, len(items)), Total: decimal.Zero}
	for _, it := range items {
		p, err := u.productRepo.FindByID(ctx, it.ProductID)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return CartOutput{}, errDB
		}

		sub := it.Subtotal(p.Price)
		out.Items = append(out.Items, CartItemOutput{
			ID:          it.ID,
			ProductID:   it.ProductID,
			Name:        p.Name,
			Unit:        p.Unit,
			UnitPrice:   p.Price,
			Quantity:    it.Quantity,
			Subtotal:    sub,
			StockStatus: p.StockStatus(),
		})
		out.Total = out.Total.Add(sub)
	}
	return out, nil
}

// 決済作成時点のスナップショット。購入できない商品が混ざっていればエラー
func (u *CartUsecase) snapshot(ctx context.Context, userID int64) (model.Cart, []model.CheckoutLine, decimal.Decimal, error) {
	cart, err := u.GetOrCreate(ctx, userID)
	if err != nil {
		return model.Cart{}, nil, decimal.Zero, err
	}
	items, err := u.cartItemRepo.ListByCartID(ctx, cart.ID)
	if err != nil {
		return model.Cart{}, nil, decimal.Zero, errDB
	}
	if len(items) == 0 {
		return model.Cart{}, nil, decimal.Zero, ErrEmptyCart
	}

	lines := make([]model.CheckoutLine, 0, len(items))
	total := decimal.Zero
	for _, it := range items {
		p, err := u.purchasableProduct(ctx, it.ProductID)
		if err != nil {
			return model.Cart{}, nil, decimal.Zero, err
		}
		lines = append(lines, model.CheckoutLine{ProductID: p.ID, Quantity: it.Quantity, UnitPrice: p.Price})
		total = total.Add(it.Subtotal(p.Price))
	}
	return cart, lines, total, nil
}
