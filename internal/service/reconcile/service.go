package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/previsio/previsio/internal/domain"
	"github.com/previsio/previsio/internal/logging"
	"github.com/previsio/previsio/internal/repository"
)

type orderRepo interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByOrderID(ctx context.Context, orderID string) (*domain.Order, error)
	GetByProviderPaymentID(ctx context.Context, providerPaymentID int64) (*domain.Order, error)
	UpdateStatusUnlessApproved(ctx context.Context, orderID string, status domain.OrderStatus, statusDetail *string, providerPaymentID *int64) (bool, error)
}

// Service keeps the local order mirror consistent with what the gateway
// reports. Approved is a ratchet: late or out-of-order callbacks never demote
// an order that already settled.
type Service struct {
	orders orderRepo
}

func NewService(orders orderRepo) *Service {
	return &Service{orders: orders}
}

type UpsertRequest struct {
	OrderID           string
	Amount            int64
	Currency          domain.Currency
	Provider          string
	ProviderPaymentID *int64
	Status            domain.OrderStatus
	StatusDetail      *string
	PaymentMethod     domain.PaymentMethod
}

// CreateOrUpdate records the order if it is new, otherwise applies the
// status through the ratchet. Two writers racing on a new order id collide
// on the unique index; the loser falls through to the update path.
func (s *Service) CreateOrUpdate(ctx context.Context, req UpsertRequest) (*domain.Order, error) {
	log := logging.FromContext(ctx)

	existing, err := s.orders.GetByOrderID(ctx, req.OrderID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("CreateOrUpdate: %w", err)
	}

	if existing == nil {
		now := time.Now().UTC()
		order := &domain.Order{
			ID:                uuid.New(),
			OrderID:           req.OrderID,
			Amount:            req.Amount,
			Currency:          req.Currency,
			Provider:          req.Provider,
			ProviderPaymentID: req.ProviderPaymentID,
			Status:            req.Status,
			StatusDetail:      req.StatusDetail,
			PaymentMethod:     req.PaymentMethod,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.orders.Create(ctx, order); err == nil {
			log.Info("order recorded", "order_id", order.OrderID, "status", order.Status)
			return order, nil
		} else if !repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("CreateOrUpdate: %w", err)
		}
		// Lost the insert race; proceed as an update.
	}

	return s.UpdateStatus(ctx, req.OrderID, req.Status, req.StatusDetail, req.ProviderPaymentID)
}

// UpdateStatus applies a new status through the approved ratchet and returns
// the resulting row.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, statusDetail *string, providerPaymentID *int64) (*domain.Order, error) {
	log := logging.FromContext(ctx)

	applied, err := s.orders.UpdateStatusUnlessApproved(ctx, orderID, status, statusDetail, providerPaymentID)
	if err != nil {
		return nil, fmt.Errorf("UpdateStatus: %w", err)
	}

	order, err := s.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("UpdateStatus: %w", err)
	}

	if !applied && order.Status == domain.OrderStatusApproved && status != domain.OrderStatusApproved {
		log.Info("status demotion blocked",
			"order_id", orderID,
			"current", order.Status,
			"attempted", status,
		)
	}
	return order, nil
}

// UpdateStatusByProviderID resolves the order through the provider's payment
// id. Used when a callback carries no order reference of our own.
func (s *Service) UpdateStatusByProviderID(ctx context.Context, providerPaymentID int64, status domain.OrderStatus, statusDetail *string) (*domain.Order, error) {
	order, err := s.orders.GetByProviderPaymentID(ctx, providerPaymentID)
	if err != nil {
		return nil, fmt.Errorf("UpdateStatusByProviderID: %w", err)
	}
	return s.UpdateStatus(ctx, order.OrderID, status, statusDetail, &providerPaymentID)
}

// GetOrder is a plain lookup by external order id.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("GetOrder: %w", err)
	}
	return order, nil
}
