package testutil

import (
	"context"
	"time"

	"github.com/flexprice/billsync/internal/config"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/flexprice/billsync/internal/types"
	"github.com/stretchr/testify/suite"
)

// Stores holds the in-memory CRM repositories used by service tests
type Stores struct {
	DealRepo     *InMemoryDealStore
	LineItemRepo *InMemoryLineItemStore
	TicketRepo   *InMemoryTicketStore
	InvoiceRepo  *InMemoryInvoiceStore
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx    context.Context
	stores Stores
	logger *logger.Logger
	config *config.Configuration
	now    time.Time
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	s.logger = logger.NewNopLogger()
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.setupConfig()
	s.setupStores()
	s.now = time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.clearStores()
}

func (s *BaseServiceTestSuite) setupConfig() {
	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = types.LogLevelInfo
	cfg.HubSpot.AccessToken = "test-token"
	cfg.HubSpot.ClientSecret = "test-secret"
	cfg.Billing.Cooldown = 0
	s.config = cfg
}

func (s *BaseServiceTestSuite) setupStores() {
	s.stores = Stores{
		DealRepo:     NewInMemoryDealStore(),
		LineItemRepo: NewInMemoryLineItemStore(),
		TicketRepo:   NewInMemoryTicketStore(),
		InvoiceRepo:  NewInMemoryInvoiceStore(),
	}
}

func (s *BaseServiceTestSuite) clearStores() {
	s.stores.DealRepo.Clear()
	s.stores.LineItemRepo.Clear()
	s.stores.TicketRepo.Clear()
	s.stores.InvoiceRepo.Clear()
}

func (s *BaseServiceTestSuite) ClearStores() {
	s.clearStores()
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration. Tests may modify it before building services.
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns all test repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetNow returns the "today" of the test, 2026-03-01
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now.UTC()
}

// GetUUID returns a new UUID string
func (s *BaseServiceTestSuite) GetUUID() string {
	return types.GenerateUUID()
}
