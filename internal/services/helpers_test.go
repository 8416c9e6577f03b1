package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/pixaccess/internal/database"
)

const testBaseURL = "https://loja.example.com"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "services.db") + "?_pragma=busy_timeout(5000)"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// fakeGateway keeps payments in memory and lets tests settle them.
type fakeGateway struct {
	mu        sync.Mutex
	intents   []PaymentIntent
	payments  map[string]*GatewayPayment
	createErr error
	fetchErr  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: make(map[string]*GatewayPayment)}
}

func (g *fakeGateway) CreateIntent(_ context.Context, intent PaymentIntent) (*PaymentIntentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.intents = append(g.intents, intent)
	if g.createErr != nil {
		return nil, g.createErr
	}
	id := fmt.Sprintf("%d", 9000+len(g.intents))
	g.payments[id] = &GatewayPayment{ID: id, Status: "pending", Metadata: intent.Metadata}
	return &PaymentIntentResult{ID: id, Status: "pending", QRCode: "pix-copy-paste", QRCodeBase64: "aW1hZ2U="}, nil
}

func (g *fakeGateway) FetchPayment(_ context.Context, id string) (*GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	p, ok := g.payments[id]
	if !ok {
		return nil, &GatewayError{StatusCode: 404, Body: `{"message":"not found"}`}
	}
	copied := *p
	return &copied, nil
}

func (g *fakeGateway) settle(id, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[id].Status = status
}

func (g *fakeGateway) lastIntent() PaymentIntent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.intents[len(g.intents)-1]
}

// recordingNotifier counts sends and can be told to fail.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []AccessMessage
	to   []string
	fail bool
}

func (n *recordingNotifier) Send(_ context.Context, phone string, msg AccessMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("whatsapp down")
	}
	n.sent = append(n.sent, msg)
	n.to = append(n.to, phone)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fixture struct {
	db         *gorm.DB
	store      *database.PurchaseStore
	gateway    *fakeGateway
	notifier   *recordingNotifier
	purchases  *PurchaseService
	reconciler *Reconciler
	sessions   *SessionManager
	access     *AccessService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	store := database.NewPurchaseStore(db)
	gateway := newFakeGateway()
	notifier := &recordingNotifier{}
	log := zerolog.Nop()

	purchases := NewPurchaseService(PurchaseServiceParams{
		Store:   store,
		Gateway: gateway,
		Config: PurchaseConfig{
			Price:         decimal.RequireFromString("97"),
			Description:   "E-book",
			PayerEmail:    "comprador@example.com",
			PublicBaseURL: testBaseURL,
		},
		Logger: log,
	})
	sessions := NewSessionManager("test-secret", 0)

	return &fixture{
		db:         db,
		store:      store,
		gateway:    gateway,
		notifier:   notifier,
		purchases:  purchases,
		reconciler: NewReconciler(purchases, gateway, notifier, testBaseURL, nil, log),
		sessions:   sessions,
		access:     NewAccessService(store, sessions),
	}
}
