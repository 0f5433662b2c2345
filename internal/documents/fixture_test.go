package documents

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"docseal/portal/portal-backend/pkg/events"
	"docseal/portal/portal-backend/pkg/pdf"
	"docseal/portal/portal-backend/pkg/qr"
	"docseal/portal/portal-backend/pkg/security"
	"docseal/portal/portal-backend/pkg/storage"
)

const testBucket = "docs"

var testLinks = Links{
	ValidationBaseURL: "https://sign.example.com/validate",
	APIBaseURL:        "https://api.example.com",
}

// MockPublisher is a mock implementation of events.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event events.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func eventOfType(eventType string) interface{} {
	return mock.MatchedBy(func(e events.Event) bool { return e.Type == eventType })
}

// fakeStamper appends a deterministic trailer instead of rendering.
type fakeStamper struct {
	mu       sync.Mutex
	calls    int
	inFlight int
	peak     int
	delay    time.Duration
}

func (s *fakeStamper) Stamp(ctx context.Context, original []byte, stamp pdf.Stamp) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	s.inFlight++
	s.peak = max(s.peak, s.inFlight)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if !bytes.HasPrefix(original, []byte("%PDF-")) {
		return nil, pdf.ErrInvalidDocument
	}
	out := append([]byte{}, original...)
	out = append(out, []byte(fmt.Sprintf("\n%% signed by %s at %s\n", stamp.SignerName, stamp.SignedAt.Format(time.RFC3339Nano)))...)
	return out, nil
}

// failingAttachRepo fails the final write for selected documents.
type failingAttachRepo struct {
	Repository
	fail map[uuid.UUID]bool
}

func (r *failingAttachRepo) AttachSignedArtifact(ctx context.Context, id uuid.UUID, artifact SignedArtifact) (*Document, error) {
	if r.fail[id] {
		return nil, storageErr("attach signed artifact", fmt.Errorf("connection reset"))
	}
	return r.Repository.AttachSignedArtifact(ctx, id, artifact)
}

// gatedAttachRepo parks every AttachSignedArtifact call until release is closed.
type gatedAttachRepo struct {
	Repository
	entered chan struct{}
	release chan struct{}
}

func (r *gatedAttachRepo) AttachSignedArtifact(ctx context.Context, id uuid.UUID, artifact SignedArtifact) (*Document, error) {
	r.entered <- struct{}{}
	<-r.release
	return r.Repository.AttachSignedArtifact(ctx, id, artifact)
}

// flakyObjects fails every delete.
type flakyObjects struct {
	*storage.MemoryClient
}

func (f *flakyObjects) Delete(ctx context.Context, bucket, key string) error {
	return fmt.Errorf("service unavailable")
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return db
}

type fixture struct {
	db        *gorm.DB
	repo      Repository
	objects   *storage.MemoryClient
	storage   *StorageProvider
	stamper   *fakeStamper
	publisher *MockPublisher
	signer    *SignatureService
	service   Service
	validator *ValidationService
	registry  *BatchRegistry
	batches   *BatchOrchestrator
	sweeper   *ExpirySweeper
	owner     uuid.UUID
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	wrapRepo    func(Repository) Repository
	objects     storage.S3Client
	concurrency int
}

func withRepo(wrap func(Repository) Repository) fixtureOption {
	return func(c *fixtureConfig) { c.wrapRepo = wrap }
}

func withObjects(client storage.S3Client) fixtureOption {
	return func(c *fixtureConfig) { c.objects = client }
}

func withConcurrency(n int) fixtureOption {
	return func(c *fixtureConfig) { c.concurrency = n }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{concurrency: 4}
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &fixture{
		db:        newTestDB(t),
		objects:   storage.NewMemoryClient(),
		stamper:   &fakeStamper{},
		publisher: new(MockPublisher),
		owner:     uuid.New(),
	}
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)

	f.repo = NewRepository(f.db)
	if cfg.wrapRepo != nil {
		f.repo = cfg.wrapRepo(f.repo)
	}
	var objects storage.S3Client = f.objects
	if cfg.objects != nil {
		objects = cfg.objects
	}
	f.storage = NewStorageProvider(objects, testBucket, time.Minute)

	nop := zap.NewNop()
	workflow := NewWorkflowService()
	encoder := qr.NewEncoder()
	f.signer = NewSignatureService(f.repo, f.storage, f.stamper, security.NewFingerprinter(), encoder, workflow, testLinks, f.publisher, nop)
	f.service = NewService(f.repo, f.storage, f.signer, workflow, encoder, testLinks, ServiceOptions{}, nop)
	f.validator = NewValidationService(f.repo, security.NewFingerprinter(), nop)
	f.registry = NewBatchRegistry(time.Hour)
	f.batches = NewBatchOrchestrator(f.signer, f.registry, f.publisher, nop, cfg.concurrency, 10)
	f.sweeper = NewExpirySweeper(f.repo, f.storage, f.publisher, nop)
	return f
}

func samplePDF(label string) []byte {
	return []byte("%PDF-1.4\n% " + label + "\n1 0 obj << /Type /Catalog >> endobj\n%%EOF\n")
}

func signatureImage() string {
	return base64.StdEncoding.EncodeToString(append([]byte("\x89PNG\r\n\x1a\n"), []byte("signature")...))
}

func material() SignatureMaterial {
	return SignatureMaterial{SignerName: "Ada Lovelace", SignatureImage: signatureImage()}
}

func (f *fixture) upload(t *testing.T, label string) uuid.UUID {
	t.Helper()
	doc, err := f.service.UploadDocument(context.Background(), UploadRequest{
		OwnerID: f.owner,
		Name:    label + ".pdf",
		Content: samplePDF(label),
	})
	require.NoError(t, err)
	return doc.ID
}

func (f *fixture) sign(t *testing.T, id uuid.UUID) *BatchSuccess {
	t.Helper()
	res, err := f.service.SignDocument(context.Background(), f.owner, id, material())
	require.NoError(t, err)
	return res
}

func (f *fixture) signedBytes(t *testing.T, id uuid.UUID) []byte {
	t.Helper()
	b, err := f.storage.GetArtifact(context.Background(), id, ArtifactSigned)
	require.NoError(t, err)
	return b
}

func (f *fixture) expire(t *testing.T, id uuid.UUID, ago time.Duration) {
	t.Helper()
	past := time.Now().UTC().Add(-ago)
	require.NoError(t, f.repo.UpdateExpiry(context.Background(), id, &past))
}
