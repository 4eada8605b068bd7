// Package service реализует бизнес-логику сервиса boosthub.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rafaelq/boosthub/internal/events"
	"github.com/rafaelq/boosthub/internal/gateway/mercadopago"
	"github.com/rafaelq/boosthub/internal/model"
	"github.com/rafaelq/boosthub/internal/payment"
	"github.com/rafaelq/boosthub/internal/provider"
	"github.com/rafaelq/boosthub/internal/repository"
	"github.com/rafaelq/boosthub/internal/validation"
)

// ErrInvalidOrder возвращается при некорректных параметрах заказа.
var ErrInvalidOrder = errors.New("invalid order request")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateProfile(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetProfileByLogin(ctx context.Context, login string) (*model.Profile, error)
	GetBalance(ctx context.Context, userID int64) (int64, int64, error)
	CreditBalance(ctx context.Context, gateway model.PaymentGateway, paymentID string, userID int64, amountCents int64) (int64, error)
	CreateOrder(ctx context.Context, o *model.Order) (int64, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetOrdersForSync(ctx context.Context, limit int) ([]repository.OrderForSync, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus, remains, startCount *int) error
	GetServiceConfig(ctx context.Context) (*model.ServiceConfig, error)
	GetServiceRate(ctx context.Context, serviceID int64) (int64, error)
}

// ProviderClient описывает контракт клиента SMM-провайдера.
type ProviderClient interface {
	AddOrder(ctx context.Context, serviceID int64, link string, quantity int) (string, error)
	GetOrderStatus(ctx context.Context, externalID string) (*provider.OrderStatus, error)
}

// PaymentsClient описывает контракт клиента Mercado Pago.
type PaymentsClient interface {
	GetPayment(ctx context.Context, paymentID string) (*mercadopago.Payment, error)
	CreatePayment(ctx context.Context, cr *mercadopago.CheckoutRequest) (*mercadopago.Payment, error)
}

// providerStatusMap отображает словарь статусов провайдера на внутренний.
// Неизвестные строки не отображаются: статус заказа остаётся прежним.
var providerStatusMap = map[string]model.OrderStatus{
	"Pending":     model.OrderStatusPending,
	"Processing":  model.OrderStatusProcessing,
	"In progress": model.OrderStatusInProgress,
	"Completed":   model.OrderStatusCompleted,
	"Partial":     model.OrderStatusPartial,
	"Canceled":    model.OrderStatusCanceled,
	"Refunded":    model.OrderStatusRefunded,
}

// syncOrderTimeout ограничивает запрос статуса одного заказа, чтобы медленный
// ответ провайдера не задерживал остальную партию.
const syncOrderTimeout = 10 * time.Second

// Service содержит бизнес-логику сервиса boosthub.
type Service struct {
	repo            Repository
	fixedProvider   ProviderClient
	providerFactory func(apiURL, apiKey string) ProviderClient
	paymentsClient  PaymentsClient
	bus             *events.Bus
	logger          *zap.Logger
	syncInterval    time.Duration
	notificationURL string

	provMu   sync.Mutex
	provider ProviderClient
	provURL  string
	provKey  string
}

// Options задаёт внешние клиенты и параметры сервиса. Provider фиксирует
// готовый клиент провайдера; ProviderFactory строит клиент из строки
// конфигурации в БД и позволяет менять адрес и ключ без перезапуска.
type Options struct {
	Provider        ProviderClient
	ProviderFactory func(apiURL, apiKey string) ProviderClient
	Payments        PaymentsClient
	Bus             *events.Bus
	SyncInterval    time.Duration
	NotificationURL string
}

// NewService создаёт новый сервис с указанным репозиторием и внешними клиентами.
func NewService(repo Repository, logger *zap.Logger, opts Options) *Service {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:            repo,
		fixedProvider:   opts.Provider,
		providerFactory: opts.ProviderFactory,
		paymentsClient:  opts.Payments,
		bus:             opts.Bus,
		logger:          logger,
		syncInterval:    opts.SyncInterval,
		notificationURL: opts.NotificationURL,
	}
}

// resolveProvider читает текущую строку конфигурации и возвращает клиент
// провайдера. Клиент пересоздаётся, когда администратор меняет адрес или
// ключ: изменение вступает в силу со следующего обращения, без перезапуска.
func (s *Service) resolveProvider(ctx context.Context) (ProviderClient, *model.ServiceConfig, error) {
	cfg, err := s.repo.GetServiceConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	if s.fixedProvider != nil {
		return s.fixedProvider, cfg, nil
	}

	if s.providerFactory == nil || cfg == nil || cfg.ProviderURL == "" {
		return nil, nil, repository.ErrConfigMissing
	}

	s.provMu.Lock()
	defer s.provMu.Unlock()
	if s.provider == nil || s.provURL != cfg.ProviderURL || s.provKey != cfg.ProviderKey {
		s.provider = s.providerFactory(cfg.ProviderURL, cfg.ProviderKey)
		s.provURL = cfg.ProviderURL
		s.provKey = cfg.ProviderKey
	}

	return s.provider, cfg, nil
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя с нулевым балансом.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateProfile(ctx, login, hashed)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	p, err := s.repo.GetProfileByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(p.PasswordHash) {
		return 0, errors.New("invalid credentials")
	}

	return p.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// GetBalance возвращает баланс пользователя в виде структуры model.Balance.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	current, spent, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.Balance{
		Current: float64(current) / 100,
		Spent:   float64(spent) / 100,
	}, nil
}

// GetOrdersByUser возвращает список заказов пользователя.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// CreditResult описывает исход обработки платёжного уведомления.
type CreditResult struct {
	Credited        bool
	Duplicate       bool
	Ignored         bool
	NewBalanceCents int64
}

// ProcessPixWebhook обрабатывает уведомление Pix-шлюза. Статусу из тела
// уведомления шлюз доверяет: повторной сверки с его API нет.
func (s *Service) ProcessPixWebhook(ctx context.Context, body []byte) (*CreditResult, error) {
	ev, err := payment.NormalizePix(body)
	if err != nil {
		return nil, err
	}

	if !ev.Paid {
		return &CreditResult{Ignored: true}, nil
	}

	return s.applyCredit(ctx, ev)
}

// ProcessMercadoPagoWebhook обрабатывает уведомление Mercado Pago.
// Тело уведомления — только сигнал: статус и сумма берутся из авторитетной
// записи платежа, запрошенной у API шлюза.
func (s *Service) ProcessMercadoPagoWebhook(ctx context.Context, body []byte) (*CreditResult, error) {
	paymentID, err := payment.ParseMercadoPagoNotification(body)
	if err != nil {
		return nil, err
	}
	if paymentID == "" {
		return &CreditResult{Ignored: true}, nil
	}

	p, err := s.paymentsClient.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	ev, err := payment.NormalizeMercadoPago(p)
	if err != nil {
		return nil, err
	}

	if !ev.Paid {
		return &CreditResult{Ignored: true}, nil
	}

	return s.applyCredit(ctx, ev)
}

// applyCredit зачисляет подтверждённое платёжное событие на баланс.
// Повторная доставка уже зачисленного платежа — штатный случай: баланс
// не меняется, шлюзу подтверждается приём.
func (s *Service) applyCredit(ctx context.Context, ev *model.PaymentEvent) (*CreditResult, error) {
	newBalance, err := s.repo.CreditBalance(ctx, ev.Gateway, ev.PaymentID, ev.UserID, ev.AmountCents)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentAlreadyProcessed) {
			s.logger.Info("duplicate payment delivery",
				zap.String("gateway", string(ev.Gateway)),
				zap.String("paymentID", ev.PaymentID),
			)
			return &CreditResult{Duplicate: true}, nil
		}
		return nil, err
	}

	s.bus.PublishBalanceCredited(events.BalanceCredited{
		UserID:      ev.UserID,
		Gateway:     ev.Gateway,
		PaymentID:   ev.PaymentID,
		AmountCents: ev.AmountCents,
		NewBalance:  newBalance,
	})

	return &CreditResult{Credited: true, NewBalanceCents: newBalance}, nil
}

// Checkout описывает созданный Pix-чекаут для пополнения баланса.
type Checkout struct {
	PaymentID    string
	Status       string
	QRCode       string
	QRCodeBase64 string
}

// PayerInfo — данные плательщика для создания чекаута.
type PayerInfo struct {
	Email     string
	FirstName string
	LastName  string
	CPF       string
}

// CreateRecharge создаёт Pix-платёж на пополнение баланса. Внутренний
// идентификатор пользователя кладётся во внешнюю ссылку платежа и вернётся
// в вебхуке после оплаты.
func (s *Service) CreateRecharge(ctx context.Context, userID int64, amountCents int64, payer PayerInfo) (*Checkout, error) {
	if amountCents <= 0 {
		return nil, errors.New("recharge amount must be positive")
	}
	if s.paymentsClient == nil {
		return nil, errors.New("payments client not configured")
	}

	p, err := s.paymentsClient.CreatePayment(ctx, &mercadopago.CheckoutRequest{
		TransactionAmount: float64(amountCents) / 100,
		Description:       "Balance recharge",
		PaymentMethodID:   "pix",
		Payer: mercadopago.Payer{
			Email:     payer.Email,
			FirstName: payer.FirstName,
			LastName:  payer.LastName,
			Identification: mercadopago.Identification{
				Type:   "CPF",
				Number: payer.CPF,
			},
		},
		ExternalReference: strconv.FormatInt(userID, 10),
		NotificationURL:   s.notificationURL,
	})
	if err != nil {
		return nil, err
	}

	checkout := &Checkout{
		PaymentID: strconv.FormatInt(p.ID, 10),
		Status:    p.Status,
	}
	if p.PointOfInteraction != nil {
		checkout.QRCode = p.PointOfInteraction.TransactionData.QRCode
		checkout.QRCodeBase64 = p.PointOfInteraction.TransactionData.QRCodeBase64
	}

	return checkout, nil
}

// OrderRequest описывает запрос на размещение заказа.
type OrderRequest struct {
	ServiceID int64
	Link      string
	Quantity  int
}

// PlaceOrder размещает заказ у провайдера и создаёт строку заказа со списанием
// стоимости с баланса. Закупочная цена берётся из серверного прайс-листа:
// клиент не управляет суммой списания. Отказ провайдера возвращается
// вызывающему дословно, строка заказа при этом не создаётся.
func (s *Service) PlaceOrder(ctx context.Context, userID int64, req OrderRequest) (*model.Order, error) {
	if !validation.IsValidLink(req.Link) || !validation.IsValidQuantity(req.Quantity) || req.ServiceID <= 0 {
		return nil, ErrInvalidOrder
	}

	providerClient, cfg, err := s.resolveProvider(ctx)
	if err != nil {
		return nil, err
	}

	rate, err := s.repo.GetServiceRate(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}

	charge := computeCharge(rate, req.Quantity, cfg.ProfitMargin)

	// Предварительная проверка баланса до обращения к провайдеру; гонки
	// окончательно разрешает условное списание в транзакции создания заказа.
	balance, _, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance < charge {
		return nil, repository.ErrInsufficientBalance
	}

	externalID, err := providerClient.AddOrder(ctx, req.ServiceID, req.Link, req.Quantity)
	if err != nil {
		return nil, err
	}

	order := &model.Order{
		UserID:     userID,
		ServiceID:  req.ServiceID,
		Link:       req.Link,
		Quantity:   req.Quantity,
		Charge:     charge,
		ExternalID: &externalID,
		Status:     model.OrderStatusPending,
	}

	orderID, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		// Заказ уже размещён у провайдера: потерю фиксации нельзя скрывать.
		s.logger.Error("order placed upstream but not persisted",
			zap.String("externalID", externalID),
			zap.Int64("userID", userID),
			zap.Error(err),
		)
		return nil, err
	}
	order.ID = orderID

	return order, nil
}

// computeCharge считает стоимость заказа: закупочная цена за 1000 единиц,
// количество и глобальная наценка; округление вверх до цента.
func computeCharge(unitCostCents int64, quantity int, marginPercent float64) int64 {
	base := float64(unitCostCents) * float64(quantity) / 1000
	total := base * (1 + marginPercent/100)

	charge := int64(total)
	if float64(charge) < total {
		charge++
	}
	if charge < 1 {
		charge = 1
	}
	return charge
}

// StartStatusSync запускает фоновый процесс обновления статусов заказов у
// провайдера. Конфигурация провайдера перечитывается на каждом цикле: строка,
// созданная администратором после старта процесса, подхватывается без перезапуска.
func (s *Service) StartStatusSync(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.syncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processSyncBatch(ctx)
			}
		}
	}()
}

// processSyncBatch выполняет один цикл опроса: каждый заказ обрабатывается
// независимо, ошибка по одному заказу не прерывает остальные.
func (s *Service) processSyncBatch(ctx context.Context) {
	providerClient, _, err := s.resolveProvider(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrConfigMissing) {
			s.logger.Debug("provider not configured, skipping sync cycle")
		} else {
			s.logger.Error("resolve provider for sync", zap.Error(err))
		}
		return
	}

	orders, err := s.repo.GetOrdersForSync(ctx, 100)
	if err != nil {
		s.logger.Error("select orders for sync", zap.Error(err))
		return
	}

	for _, o := range orders {
		if err := s.syncOrder(ctx, providerClient, o); err != nil {
			s.logger.Error("sync order",
				zap.Int64("orderID", o.ID),
				zap.String("externalID", o.ExternalID),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) syncOrder(ctx context.Context, providerClient ProviderClient, o repository.OrderForSync) error {
	orderCtx, cancel := context.WithTimeout(ctx, syncOrderTimeout)
	defer cancel()

	st, err := providerClient.GetOrderStatus(orderCtx, o.ExternalID)
	if err != nil {
		return err
	}

	mapped, ok := providerStatusMap[st.Status]
	if !ok {
		s.logger.Warn("unknown provider status",
			zap.Int64("orderID", o.ID),
			zap.String("providerStatus", st.Status),
		)
		return nil
	}

	if !o.Status.CanTransitionTo(mapped) {
		return nil
	}

	if err := s.repo.UpdateOrderStatus(orderCtx, o.ID, mapped, st.Remains, st.StartCount); err != nil {
		return err
	}

	s.bus.PublishOrderStatusChanged(events.OrderStatusChanged{
		OrderID: o.ID,
		From:    o.Status,
		To:      mapped,
	})

	return nil
}
