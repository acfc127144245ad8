// Package index stores pipeline documents in Elasticsearch.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"feedly-pipeline/internal/common/config"
	apperrors "feedly-pipeline/internal/common/errors"
	"feedly-pipeline/internal/common/logger"
	"feedly-pipeline/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var (
	ErrDocumentNotFound     = errors.New("DOCUMENT_NOT_FOUND")
	ErrIndexOperationFailed = errors.New("INDEX_OPERATION_FAILED")
)

const defaultBatchSize = 100

// Index is the document index contract used by the stage handlers.
type Index interface {
	Upsert(ctx context.Context, doc models.IndexedDocument) error
	Merge(ctx context.Context, key string, fields interface{}) error
	MergeBatch(ctx context.Context, docs []MergeDoc, batchSize int) (*BulkResult, error)
	Get(ctx context.Context, key string) (*models.IndexedDocument, error)
	Search(ctx context.Context, filter Filter, limit int) ([]models.IndexedDocument, error)
	DeleteByKeys(ctx context.Context, keys []string) (int, error)
	DeleteAll(ctx context.Context) (int, error)
	EnsureIndex(ctx context.Context) error
}

// MergeDoc is one partial update in a batch.
type MergeDoc struct {
	Key    string
	Fields interface{}
}

type BulkResult struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

type Store struct {
	client  *elasticsearch.Client
	index   string
	refresh string
	logger  logger.Logger
}

var _ Index = (*Store)(nil)

func NewStore(client *elasticsearch.Client, cfg config.IndexConfig, log logger.Logger) *Store {
	return &Store{
		client:  client,
		index:   cfg.Name,
		refresh: cfg.Refresh,
		logger:  log.WithFields(map[string]interface{}{"component": "index", "index": cfg.Name}),
	}
}

func (s *Store) Name() string {
	return s.index
}

// Upsert replaces the whole document stored under doc.ID.
func (s *Store) Upsert(ctx context.Context, doc models.IndexedDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	opts := []func(*esapi.IndexRequest){
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(doc.ID),
	}
	if s.refresh != "" {
		opts = append(opts, s.client.Index.WithRefresh(s.refresh))
	}

	res, err := s.client.Index(s.index, bytes.NewReader(body), opts...)
	if err := s.check("upsert", res, err); err != nil {
		return err
	}
	defer res.Body.Close()

	s.logger.Debug("Document upserted", map[string]interface{}{"docId": doc.ID})
	return nil
}

// Merge applies a partial update; fields not mentioned are left untouched.
func (s *Store) Merge(ctx context.Context, key string, fields interface{}) error {
	body, err := json.Marshal(map[string]interface{}{"doc": fields})
	if err != nil {
		return fmt.Errorf("encode merge: %w", err)
	}

	opts := []func(*esapi.UpdateRequest){
		s.client.Update.WithContext(ctx),
		s.client.Update.WithRetryOnConflict(3),
	}
	if s.refresh != "" {
		opts = append(opts, s.client.Update.WithRefresh(s.refresh))
	}

	res, err := s.client.Update(s.index, key, bytes.NewReader(body), opts...)
	if err := s.check("merge", res, err); err != nil {
		return err
	}
	defer res.Body.Close()

	s.logger.Debug("Document merged", map[string]interface{}{"docId": key})
	return nil
}

type bulkResponse struct {
	Errors bool                                  `json:"errors"`
	Items  []map[string]bulkResponseItemResponse `json:"items"`
}

type bulkResponseItemResponse struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

// MergeBatch sends partial updates through the bulk API. Item failures are
// counted and do not stop the remaining batches.
func (s *Store) MergeBatch(ctx context.Context, docs []MergeDoc, batchSize int) (*BulkResult, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	result := &BulkResult{}
	for start := 0; start < len(docs); start += batchSize {
		end := start + batchSize
		if end > len(docs) {
			end = len(docs)
		}

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, d := range docs[start:end] {
			if err := enc.Encode(map[string]interface{}{"update": map[string]interface{}{"_id": d.Key}}); err != nil {
				return result, err
			}
			if err := enc.Encode(map[string]interface{}{"doc": d.Fields, "doc_as_upsert": true}); err != nil {
				return result, err
			}
		}

		res, err := s.bulk(ctx, &buf)
		if err != nil {
			return result, err
		}
		s.tally(res, result)

		s.logger.Info("Merge batch sent", map[string]interface{}{
			"batchStart": start,
			"batchSize":  end - start,
			"succeeded":  result.Succeeded,
			"failed":     result.Failed,
		})
	}
	return result, nil
}

// DeleteByKeys removes documents by key through the bulk API.
func (s *Store) DeleteByKeys(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, key := range keys {
		if err := enc.Encode(map[string]interface{}{"delete": map[string]interface{}{"_id": key}}); err != nil {
			return 0, err
		}
	}

	res, err := s.bulk(ctx, &buf)
	if err != nil {
		return 0, err
	}
	result := &BulkResult{}
	s.tally(res, result)
	return result.Succeeded, nil
}

func (s *Store) bulk(ctx context.Context, body io.Reader) (*bulkResponse, error) {
	opts := []func(*esapi.BulkRequest){
		s.client.Bulk.WithContext(ctx),
		s.client.Bulk.WithIndex(s.index),
	}
	if s.refresh != "" {
		opts = append(opts, s.client.Bulk.WithRefresh(s.refresh))
	}

	res, err := s.client.Bulk(body, opts...)
	if err := s.check("bulk", res, err); err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return nil, apperrors.NewIndexOperationFailedError("bulk", fmt.Errorf("decode bulk response: %w", err))
	}
	return &br, nil
}

func (s *Store) tally(br *bulkResponse, result *BulkResult) {
	for _, item := range br.Items {
		for _, r := range item {
			if r.Error == nil && r.Status < 300 {
				result.Succeeded++
				continue
			}
			// a delete of a missing key is not a failure
			if r.Status == http.StatusNotFound && r.Error == nil {
				result.Succeeded++
				continue
			}
			result.Failed++
			reason := fmt.Sprintf("%s: status %d", r.ID, r.Status)
			if r.Error != nil {
				reason = fmt.Sprintf("%s: %s: %s", r.ID, r.Error.Type, r.Error.Reason)
			}
			result.Errors = append(result.Errors, reason)
		}
	}
}

type getResponse struct {
	Found  bool                   `json:"found"`
	Source models.IndexedDocument `json:"_source"`
}

func (s *Store) Get(ctx context.Context, key string) (*models.IndexedDocument, error) {
	res, err := s.client.Get(s.index, key, s.client.Get.WithContext(ctx))
	if err != nil {
		return nil, apperrors.NewElasticsearchConnectionFailedError(err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, key)
	}
	if res.IsError() {
		return nil, apperrors.NewIndexOperationFailedError("get", fmt.Errorf("%w: %s", ErrIndexOperationFailed, res.String()))
	}

	var gr getResponse
	if err := json.NewDecoder(res.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if !gr.Found {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, key)
	}
	return &gr.Source, nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string                 `json:"_id"`
			Source models.IndexedDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search returns up to limit documents matching filter.
func (s *Store) Search(ctx context.Context, filter Filter, limit int) ([]models.IndexedDocument, error) {
	body, err := json.Marshal(map[string]interface{}{
		"query": filter.Query(),
		"size":  limit,
	})
	if err != nil {
		return nil, err
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err := s.check("search", res, err); err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, apperrors.NewIndexOperationFailedError("search", fmt.Errorf("decode search response: %w", err))
	}

	docs := make([]models.IndexedDocument, 0, len(sr.Hits.Hits))
	for _, hit := range sr.Hits.Hits {
		doc := hit.Source
		if doc.ID == "" {
			doc.ID = hit.ID
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// DeleteAll empties the index and returns the number of deleted documents.
func (s *Store) DeleteAll(ctx context.Context) (int, error) {
	body, _ := json.Marshal(map[string]interface{}{"query": Filter{}.Query()})

	res, err := s.client.DeleteByQuery(
		[]string{s.index},
		bytes.NewReader(body),
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithConflicts("proceed"),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err := s.check("delete_all", res, err); err != nil {
		return 0, err
	}
	defer res.Body.Close()

	var dr struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&dr); err != nil {
		return 0, apperrors.NewIndexOperationFailedError("delete_all", err)
	}

	s.logger.Info("Index cleared", map[string]interface{}{"deleted": dr.Deleted})
	return dr.Deleted, nil
}

// EnsureIndex creates the index with Mapping when it does not exist.
func (s *Store) EnsureIndex(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return apperrors.NewElasticsearchConnectionFailedError(err)
	}
	res.Body.Close()

	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return apperrors.NewIndexOperationFailedError("exists", fmt.Errorf("%w: %s", ErrIndexOperationFailed, res.Status()))
	}

	body, _ := json.Marshal(Mapping)
	res, err = s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err := s.check("create_index", res, err); err != nil {
		return err
	}
	defer res.Body.Close()

	s.logger.Info("Index created", nil)
	return nil
}

// check maps transport and HTTP failures to standard errors. It closes the body on error.
func (s *Store) check(op string, res *esapi.Response, err error) error {
	if err != nil {
		return apperrors.NewElasticsearchConnectionFailedError(err)
	}
	if res.IsError() {
		defer res.Body.Close()
		if res.StatusCode == http.StatusNotFound && op != "merge" {
			return apperrors.NewIndexNotFoundError(s.index)
		}
		return apperrors.NewIndexOperationFailedError(op, fmt.Errorf("%w: %s", ErrIndexOperationFailed, res.String()))
	}
	return nil
}
