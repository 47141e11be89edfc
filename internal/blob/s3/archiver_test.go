package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/salvagebid/internal/domain"
	"github.com/alanyoungcy/salvagebid/internal/store/memory"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "multipart")
}

func lines(t *testing.T, raw []byte) []json.RawMessage {
	t.Helper()
	var out []json.RawMessage
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		out = append(out, append(json.RawMessage(nil), sc.Bytes()...))
	}
	require.NoError(t, sc.Err())
	return out
}

func TestArchiver_ExportsWindow(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	now := day.Add(10 * time.Hour)
	db := memory.NewDB()
	db.SetClock(func() time.Time { return now })
	blobs := newMemBlobs()
	arch := NewArchiver(blobs, db.Auctions(), db.Bids(), db.Wallets(), db.Audit())

	for _, id := range []string{"auc-1", "auc-2"} {
		require.NoError(t, db.Auctions().Create(ctx, domain.Auction{ID: id, CaseID: "case-" + id, Status: domain.AuctionActive}))
	}
	_, err := db.Auctions().Mutate(ctx, "auc-1", func(a *domain.Auction) (*domain.Bid, error) {
		closed := now
		a.Status = domain.AuctionClosed
		a.ClosedAt = &closed
		return &domain.Bid{ID: "bid-1", AuctionID: a.ID, VendorID: "vendor-a", Amount: decimal.NewFromInt(150000)}, nil
	})
	require.NoError(t, err)

	w, err := db.Wallets().Ensure(ctx, "vendor-a")
	require.NoError(t, err)
	_, _, err = db.Wallets().Apply(ctx, w.ID, func(w *domain.EscrowWallet) (domain.WalletTransaction, error) {
		amount := decimal.NewFromInt(500000)
		if err := domain.ApplyTx(w, domain.TxCredit, amount); err != nil {
			return domain.WalletTransaction{}, err
		}
		return domain.WalletTransaction{Type: domain.TxCredit, Amount: amount, Reference: "fund-1"}, nil
	})
	require.NoError(t, err)
	require.NoError(t, db.Audit().Log(ctx, "vendor_suspended", "admin-1", map[string]any{"vendor_id": "vendor-b"}))
	require.NoError(t, db.Audit().Log(ctx, "vendor_reinstated", "admin-1", nil))

	from, to := day, day.Add(24*time.Hour)

	n, err := arch.ExportAuctions(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only the closed auction")
	raw := blobs.objects["archive/auctions/2026-03-02_2026-03-03.jsonl"]
	require.Len(t, lines(t, raw), 1)
	var rec AuctionRecord
	require.NoError(t, json.Unmarshal(lines(t, raw)[0], &rec))
	assert.Equal(t, "auc-1", rec.Auction.ID)
	require.Len(t, rec.Bids, 1)
	assert.Equal(t, "bid-1", rec.Bids[0].ID)
	assert.Equal(t, jsonlContentType, blobs.types["archive/auctions/2026-03-02_2026-03-03.jsonl"])

	n, err = arch.ExportLedger(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = arch.ExportAudit(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n, "two admin entries plus two export records")
	auditLines := lines(t, blobs.objects["archive/audit/2026-03-02_2026-03-03.jsonl"])
	var first domain.AuditEntry
	require.NoError(t, json.Unmarshal(auditLines[0], &first))
	assert.Equal(t, "vendor_suspended", first.Event, "oldest first")

	n, err = arch.ExportLedger(ctx, to, to.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, blobs.objects, 3, "empty windows upload nothing")
}

func TestArchivePath(t *testing.T) {
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "archive/ledger/2026-03-02_2026-03-03.jsonl", archivePath("ledger", from, from.Add(24*time.Hour)))
	assert.Equal(t, "archive/audit/2026-03-02T00-00_2026-03-02T06-00.jsonl", archivePath("audit", from, from.Add(6*time.Hour)))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(&types.NotFound{}))
	assert.False(t, isNotFound(errors.New("connection reset")))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio.local:9000", normaliseEndpoint("minio.local:9000", true))
	assert.Equal(t, "http://minio.local:9000", normaliseEndpoint("minio.local:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
}
