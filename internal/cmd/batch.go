package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Aslarex/go-curl2/internal/fetch"
	"github.com/Aslarex/go-curl2/internal/fetcherr"
	"github.com/Aslarex/go-curl2/internal/json"
	log "github.com/Aslarex/go-curl2/internal/logging"
	"github.com/Aslarex/go-curl2/internal/request"
	"github.com/tailscale/hujson"
	"golang.org/x/sync/errgroup"
)

const defaultBatchParallel = 8

// BatchResult is one line of batch output.
type BatchResult struct {
	Index    int             `json:"index"`
	URL      string          `json:"url"`
	Response *fetch.Envelope `json:"response,omitempty"`
	Error    *BatchError     `json:"error,omitempty"`
}

// BatchError describes a failed batch item.
type BatchError struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	ExitCode int    `json:"exit_code,omitempty"`
}

// ParseBatch reads a HuJSON array of request documents. Comments and
// trailing commas are allowed.
func ParseBatch(data []byte) ([]request.Document, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("invalid batch file: %w", err)
	}
	var docs []request.Document
	if err = json.Unmarshal(std, &docs); err != nil {
		return nil, fmt.Errorf("invalid batch file: %w", err)
	}
	return docs, nil
}

// RunBatch executes docs with at most parallel requests outstanding. Item
// failures, admission rejections included, are reported per result and never
// stop the batch. Results keep the input order.
func RunBatch(ctx context.Context, client *fetch.Client, docs []request.Document, parallel int) []BatchResult {
	if parallel <= 0 {
		parallel = defaultBatchParallel
	}
	results := make([]BatchResult, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i := range docs {
		doc := &docs[i]
		g.Go(func() error {
			results[i] = runBatchItem(gctx, client, i, doc)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func runBatchItem(ctx context.Context, client *fetch.Client, index int, doc *request.Document) BatchResult {
	result := BatchResult{Index: index, URL: doc.URL}
	req, err := doc.Request()
	if err != nil {
		result.Error = batchError(fetcherr.Wrap(fetcherr.KindConstruction, err, ""))
		return result
	}
	req.Stream = false

	resp, err := client.Do(ctx, req)
	if err != nil {
		log.WithError(err).WithField("index", index).Debug("batch item failed")
		result.Error = batchError(err)
		return result
	}
	env := resp.Envelope()
	result.Response = &env
	return result
}

func batchError(err error) *BatchError {
	out := &BatchError{Kind: fetcherr.KindOf(err).String(), Message: err.Error()}
	var fe *fetcherr.Error
	if errors.As(err, &fe) {
		out.ExitCode = fe.ExitCode
	}
	return out
}

// DoBatch runs the batch file at path and writes one JSON line per item to w.
// It returns the number of failed items.
func DoBatch(ctx context.Context, client *fetch.Client, path string, parallel int, w io.Writer) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read batch file: %w", err)
	}
	docs, err := ParseBatch(data)
	if err != nil {
		return 0, err
	}

	failed := 0
	enc := json.NewEncoder(w)
	for _, result := range RunBatch(ctx, client, docs, parallel) {
		if result.Error != nil {
			failed++
		}
		if err = enc.Encode(result); err != nil {
			return failed, err
		}
	}
	log.Debugf("batch finished: %d items, %d failed", len(docs), failed)
	return failed, nil
}
