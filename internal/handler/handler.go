// Package handler exposes the cart synchronizer and catalog cache over a
// small JSON API for the storefront UI.
package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/session"
	"storefront/internal/shopify"
)

// Handler serves the storefront API. Cart routes resolve the caller's
// identity from request headers and delegate to that identity's synchronizer.
type Handler struct {
	carts   *cart.Manager
	catalog *catalog.Cache
}

// New constructs a Handler.
func New(carts *cart.Manager, catalog *catalog.Cache) *Handler {
	return &Handler{
		carts:   carts,
		catalog: catalog,
	}
}

// Register mounts all API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/cart", h.getCart)
	mux.HandleFunc("POST /api/cart/items", h.addItem)
	mux.HandleFunc("PATCH /api/cart/items/{lineID}", h.updateItem)
	mux.HandleFunc("DELETE /api/cart/items/{lineID}", h.removeItem)
	mux.HandleFunc("DELETE /api/cart", h.clearCart)
	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/products/{handle}", h.getProduct)
}

// sessionFromRequest derives the caller's identity. A customer ID plus a
// bearer token means authenticated; anything else is the anonymous identity.
func sessionFromRequest(r *http.Request) session.Session {
	userID := r.Header.Get("X-Customer-ID")
	auth := r.Header.Get("Authorization")
	token, hasBearer := strings.CutPrefix(auth, "Bearer ")
	if userID != "" && hasBearer && token != "" {
		return session.Session{
			Status:      session.Authenticated,
			UserID:      userID,
			AccessToken: token,
		}
	}
	return session.Session{Status: session.Unauthenticated}
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) *cart.Synchronizer {
	s, err := h.carts.ForSession(r.Context(), sessionFromRequest(r))
	if err != nil {
		zctx.From(r.Context()).Error("Load cart", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load cart")
		return nil
	}
	return s
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	s := h.sync(w, r)
	if s == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

type addItemRequest struct {
	VariantID string         `json:"variantId"`
	Quantity  int            `json:"quantity"`
	Product   productPayload `json:"product"`
}

type productPayload struct {
	ProductID    string          `json:"productId"`
	ProductTitle string          `json:"productTitle"`
	VariantTitle string          `json:"variantTitle"`
	Price        decimal.Decimal `json:"price"`
	CurrencyCode string          `json:"currencyCode"`
	Image        string          `json:"image"`
	Handle       string          `json:"handle"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VariantID == "" {
		writeError(w, http.StatusBadRequest, "variantId is required")
		return
	}

	s := h.sync(w, r)
	if s == nil {
		return
	}

	err := s.AddItem(r.Context(), cart.AddItemInput{
		VariantID:    req.VariantID,
		Quantity:     req.Quantity,
		ProductID:    req.Product.ProductID,
		ProductTitle: req.Product.ProductTitle,
		VariantTitle: req.Product.VariantTitle,
		Price:        req.Product.Price,
		CurrencyCode: req.Product.CurrencyCode,
		ImageURL:     req.Product.Image,
		Handle:       req.Product.Handle,
	})
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, "quantity must be greater than 0")
		return
	case err != nil:
		// The optimistic line is already rolled back; the UI can retry.
		zctx.From(r.Context()).Warn("Add item", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to add item to cart")
		return
	}

	writeJSON(w, http.StatusCreated, s.Snapshot())
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	lineID := r.PathValue("lineID")

	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s := h.sync(w, r)
	if s == nil {
		return
	}

	if err := s.UpdateQuantity(r.Context(), lineID, req.Quantity); err != nil {
		// Only the removal path (quantity <= 0) reports remote failures;
		// state has already snapped back to the remote truth.
		zctx.From(r.Context()).Warn("Update quantity", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to update quantity")
		return
	}

	// The remote write is debounced; the optimistic snapshot is returned.
	writeJSON(w, http.StatusAccepted, s.Snapshot())
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	lineID := r.PathValue("lineID")

	s := h.sync(w, r)
	if s == nil {
		return
	}

	if err := s.RemoveItem(r.Context(), lineID); err != nil {
		zctx.From(r.Context()).Warn("Remove item", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to remove item")
		return
	}

	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	s := h.sync(w, r)
	if s == nil {
		return
	}

	if err := s.Clear(r.Context()); err != nil {
		zctx.From(r.Context()).Error("Clear cart", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear cart")
		return
	}

	writeJSON(w, http.StatusOK, s.Snapshot())
}

type productResponse struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Handle      string            `json:"handle"`
	Description string            `json:"description,omitempty"`
	Image       string            `json:"image,omitempty"`
	Price       decimal.Decimal   `json:"price"`
	Currency    string            `json:"currencyCode"`
	Variants    []variantResponse `json:"variants"`
}

type variantResponse struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Available bool            `json:"available"`
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.Products(r.Context())
	if err != nil {
		zctx.From(r.Context()).Error("List products", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to load products")
		return
	}

	out := make([]productResponse, 0, len(products))
	for i := range products {
		out = append(out, toProductResponse(&products[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.ProductByHandle(r.Context(), r.PathValue("handle"))
	if err != nil {
		zctx.From(r.Context()).Error("Get product", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to load product")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

func toProductResponse(p *shopify.Product) productResponse {
	out := productResponse{
		ID:          p.ID,
		Title:       p.Title,
		Handle:      p.Handle,
		Description: p.Description,
		Image:       p.ImageURL,
		Price:       p.Price.Amount,
		Currency:    p.Price.CurrencyCode,
		Variants:    make([]variantResponse, 0, len(p.Variants)),
	}
	for _, v := range p.Variants {
		out.Variants = append(out.Variants, variantResponse{
			ID:        v.ID,
			Title:     v.Title,
			Price:     v.Price.Amount,
			Available: v.Available,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"code":    status,
		"message": message,
	})
}
