package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// Exports larger than this go through the multipart uploader.
	multipartThreshold = 16 * 1024 * 1024
	auditPageSize      = 1000
)

// AuctionRecord is one line of an auctions export: the closed auction with
// its complete bid history.
type AuctionRecord struct {
	Auction domain.Auction `json:"auction"`
	Bids    []domain.Bid   `json:"bids"`
}

// Archiver implements domain.Archiver. Each export queries one window,
// serialises it as JSONL and uploads it under
// archive/<kind>/<from>_<to>.jsonl. Nothing is removed from the primary
// store.
type Archiver struct {
	writer   domain.BlobWriter
	auctions domain.AuctionStore
	bids     domain.BidStore
	wallets  domain.WalletStore
	audit    domain.AuditStore
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, auctions domain.AuctionStore, bids domain.BidStore, wallets domain.WalletStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer:   writer,
		auctions: auctions,
		bids:     bids,
		wallets:  wallets,
		audit:    audit,
	}
}

// ExportAuctions exports auctions closed in [from, to) with their bids.
func (a *Archiver) ExportAuctions(ctx context.Context, from, to time.Time) (int64, error) {
	closed, err := a.auctions.ListClosedBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: export auctions query: %w", err)
	}
	records := make([]AuctionRecord, 0, len(closed))
	for _, au := range closed {
		bids, err := a.bids.ListByAuction(ctx, au.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: export auctions bids %s: %w", au.ID, err)
		}
		records = append(records, AuctionRecord{Auction: au, Bids: bids})
	}
	return export(ctx, a, "auctions", from, to, records)
}

// ExportLedger exports every wallet transaction created in [from, to).
func (a *Archiver) ExportLedger(ctx context.Context, from, to time.Time) (int64, error) {
	txs, err := a.wallets.ListTransactionsBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: export ledger query: %w", err)
	}
	return export(ctx, a, "ledger", from, to, txs)
}

// ExportAudit exports audit entries created in [from, to), oldest first.
func (a *Archiver) ExportAudit(ctx context.Context, from, to time.Time) (int64, error) {
	var entries []domain.AuditEntry
	for offset := 0; ; offset += auditPageSize {
		page, err := a.audit.List(ctx, domain.ListOpts{Since: &from, Until: &to, Limit: auditPageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: export audit query: %w", err)
		}
		entries = append(entries, page...)
		if len(page) < auditPageSize {
			break
		}
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return export(ctx, a, "audit", from, to, entries)
}

// export uploads records and records the export in the audit log. An empty
// window uploads nothing.
func export[T any](ctx context.Context, a *Archiver, kind string, from, to time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: export %s marshal: %w", kind, err)
	}

	path := archivePath(kind, from, to)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: export %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive_exported", "scheduler", map[string]any{
		"kind":  kind,
		"path":  path,
		"count": count,
		"from":  from.Format(time.RFC3339),
		"to":    to.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: export %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath builds the key for an export window:
//
//	archive/ledger/2026-03-01_2026-03-02.jsonl
func archivePath(kind string, from, to time.Time) string {
	const layout = "2006-01-02T15-04"
	if from.Truncate(24*time.Hour).Equal(from) && to.Truncate(24*time.Hour).Equal(to) {
		return fmt.Sprintf("archive/%s/%s_%s.jsonl", kind, from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02"))
	}
	return fmt.Sprintf("archive/%s/%s_%s.jsonl", kind, from.UTC().Format(layout), to.UTC().Format(layout))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
