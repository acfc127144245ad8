// Package indextest provides an in-memory Elasticsearch stand-in for tests.
package indextest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
)

// Server implements the subset of the Elasticsearch REST API used by index.Store.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	indices map[string]map[string]map[string]interface{}
	fail    map[string]int
	calls   map[string]int
}

func NewServer() *Server {
	s := &Server{
		indices: make(map[string]map[string]map[string]interface{}),
		fail:    make(map[string]int),
		calls:   make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.info)
	mux.HandleFunc("HEAD /{index}", s.exists)
	mux.HandleFunc("PUT /{index}", s.createIndex)
	mux.HandleFunc("PUT /{index}/_doc/{id}", s.indexDoc)
	mux.HandleFunc("POST /{index}/_doc/{id}", s.indexDoc)
	mux.HandleFunc("GET /{index}/_doc/{id}", s.getDoc)
	mux.HandleFunc("POST /{index}/_update/{id}", s.updateDoc)
	mux.HandleFunc("POST /{index}/_search", s.search)
	mux.HandleFunc("GET /{index}/_search", s.search)
	mux.HandleFunc("POST /{index}/_bulk", s.bulk)
	mux.HandleFunc("PUT /{index}/_bulk", s.bulk)
	mux.HandleFunc("POST /{index}/_delete_by_query", s.deleteByQuery)

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		mux.ServeHTTP(w, r)
	}))
	return s
}

// Client returns a go-elasticsearch client pointed at the server.
func (s *Server) Client() *elasticsearch.Client {
	c, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{s.URL}})
	if err != nil {
		panic(err)
	}
	return c
}

// FailWith makes every subsequent call to op ("index", "update", "search",
// "bulk", "delete_by_query", "get") answer with status.
func (s *Server) FailWith(op string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.fail, op)
		return
	}
	s.fail[op] = status
}

// Calls returns how many times op was requested.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Doc returns a copy of a stored document, or nil.
func (s *Server) Doc(index, id string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.indices[index][id]
	if !ok {
		return nil
	}
	return copyDoc(doc)
}

// Count returns the number of documents in index.
func (s *Server) Count(index string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.indices[index])
}

// Put stores a document directly.
func (s *Server) Put(index, id string, doc map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs(index)[id] = copyDoc(doc)
}

func (s *Server) docs(index string) map[string]map[string]interface{} {
	if s.indices[index] == nil {
		s.indices[index] = make(map[string]map[string]interface{})
	}
	return s.indices[index]
}

func copyDoc(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorBody(status int, typ, reason string) map[string]interface{} {
	return map[string]interface{}{
		"error":  map[string]interface{}{"type": typ, "reason": reason},
		"status": status,
	}
}

// begin records the call and reports an injected failure, if any.
func (s *Server) begin(w http.ResponseWriter, op string) bool {
	s.calls[op]++
	if status, ok := s.fail[op]; ok {
		writeJSON(w, status, errorBody(status, "injected_failure", op))
		return false
	}
	return true
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "indextest",
		"version": map[string]interface{}{"number": "8.11.0", "build_flavor": "default"},
		"tagline": "You Know, for Search",
	})
}

func (s *Server) exists(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indices[r.PathValue("index")]; ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (s *Server) createIndex(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begin(w, "create_index") {
		return
	}
	s.docs(r.PathValue("index"))
	writeJSON(w, http.StatusOK, map[string]interface{}{"acknowledged": true, "index": r.PathValue("index")})
}

func (s *Server) indexDoc(w http.ResponseWriter, r *http.Request) {
	var doc map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(400, "parse_exception", err.Error()))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begin(w, "index") {
		return
	}
	docs := s.docs(r.PathValue("index"))
	id := r.PathValue("id")
	result, status := "created", http.StatusCreated
	if _, ok := docs[id]; ok {
		result, status = "updated", http.StatusOK
	}
	docs[id] = doc
	writeJSON(w, status, map[string]interface{}{"_id": id, "result": result})
}

func (s *Server) getDoc(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begin(w, "get") {
		return
	}
	id := r.PathValue("id")
	doc, ok := s.indices[r.PathValue("index")][id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"_id": id, "found": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"_id": id, "found": true, "_source": doc})
}

func (s *Server) updateDoc(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Doc         map[string]interface{} `json:"doc"`
		DocAsUpsert bool                   `json:"doc_as_upsert"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(400, "parse_exception", err.Error()))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begin(w, "update") {
		return
	}
	status, resp := s.applyUpdate(r.PathValue("index"), r.PathValue("id"), body.Doc, body.DocAsUpsert)
	writeJSON(w, status, resp)
}

func (s *Server) applyUpdate(index, id string, fields map[string]interface{}, upsert bool) (int, map[string]interface{}) {
	docs := s.docs(index)
	existing, ok := docs[id]
	if !ok && !upsert {
		return http.StatusNotFound, map[string]interface{}{
			"_id":    id,
			"status": http.StatusNotFound,
			"error":  map[string]interface{}{"type": "document_missing_exception", "reason": "[" + id + "]: document missing"},
		}
	}
	if !ok {
		existing = make(map[string]interface{})
	}
	for k, v := range fields {
		existing[k] = v
	}
	docs[id] = existing
	return http.StatusOK, map[string]interface{}{"_id": id, "result": "updated", "status": http.StatusOK}
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query map[string]interface{} `json:"query"`
		Size  *int                   `json:"size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody(400, "parse_exception", err.Error()))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begin(w, "search") {
		return
	}

	docs, ok := s.indices[r.PathValue("index")]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody(404, "index_not_found_exception", "no such index"))
		return
	}

	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	size := 10
	if body.Size != nil {
		size = *body.Size
	}

	hits := []interface{}{}
	for _, id := range ids {
		if len(hits) >= size {
			break
		}
		if body.Query == nil || Matches(body.Query, docs[id]) {
			hits = append(hits, map[string]interface{}{"_id": id, "_source": docs[id]})
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hits": map[string]interface{}{
			"total": map[string]interface{}{"value": len(hits), "relation": "eq"},
			"hits":  hits,
		},
	})
}

func (s *Server) bulk(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begin(w, "bulk") {
		return
	}

	index := r.PathValue("index")
	docs := s.docs(index)
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)

	items := []interface{}{}
	hasErrors := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var action map[string]map[string]interface{}
		if err := json.Unmarshal([]byte(line), &action); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(400, "parse_exception", err.Error()))
			return
		}
		for op, meta := range action {
			id, _ := meta["_id"].(string)
			switch op {
			case "delete":
				status := http.StatusOK
				result := "deleted"
				if _, ok := docs[id]; !ok {
					status, result = http.StatusNotFound, "not_found"
				}
				delete(docs, id)
				items = append(items, map[string]interface{}{op: map[string]interface{}{"_id": id, "status": status, "result": result}})
			case "update", "index":
				if !scanner.Scan() {
					writeJSON(w, http.StatusBadRequest, errorBody(400, "parse_exception", "missing source line"))
					return
				}
				var source map[string]interface{}
				if err := json.Unmarshal(scanner.Bytes(), &source); err != nil {
					writeJSON(w, http.StatusBadRequest, errorBody(400, "parse_exception", err.Error()))
					return
				}
				var status int
				var resp map[string]interface{}
				if op == "index" {
					docs[id] = source
					status, resp = http.StatusOK, map[string]interface{}{"_id": id, "status": http.StatusOK}
				} else {
					fields, _ := source["doc"].(map[string]interface{})
					upsert, _ := source["doc_as_upsert"].(bool)
					status, resp = s.applyUpdate(index, id, fields, upsert)
				}
				if status >= 300 {
					hasErrors = true
				}
				items = append(items, map[string]interface{}{op: resp})
			default:
				writeJSON(w, http.StatusBadRequest, errorBody(400, "illegal_argument_exception", fmt.Sprintf("unsupported action %s", op)))
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"took": 1, "errors": hasErrors, "items": items})
}

func (s *Server) deleteByQuery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query map[string]interface{} `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(400, "parse_exception", err.Error()))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begin(w, "delete_by_query") {
		return
	}
	docs := s.docs(r.PathValue("index"))
	deleted := 0
	for id, doc := range docs {
		if Matches(body.Query, doc) {
			delete(docs, id)
			deleted++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted, "total": deleted, "failures": []interface{}{}})
}

// Matches evaluates the query clauses produced by index.Filter against doc.
func Matches(query map[string]interface{}, doc map[string]interface{}) bool {
	for kind, raw := range query {
		clause, _ := raw.(map[string]interface{})
		switch kind {
		case "match_all":
		case "term":
			for field, want := range clause {
				if fmt.Sprint(doc[field]) != fmt.Sprint(want) || doc[field] == nil {
					return false
				}
			}
		case "exists":
			field, _ := clause["field"].(string)
			if doc[field] == nil {
				return false
			}
		case "bool":
			if !matchBool(clause, doc) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func matchBool(clause map[string]interface{}, doc map[string]interface{}) bool {
	for _, key := range []string{"filter", "must"} {
		for _, q := range clauses(clause[key]) {
			if !Matches(q, doc) {
				return false
			}
		}
	}
	for _, q := range clauses(clause["must_not"]) {
		if Matches(q, doc) {
			return false
		}
	}
	should := clauses(clause["should"])
	if len(should) > 0 {
		for _, q := range should {
			if Matches(q, doc) {
				return true
			}
		}
		return false
	}
	return true
}

func clauses(v interface{}) []map[string]interface{} {
	switch t := v.(type) {
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]interface{}:
		return []map[string]interface{}{t}
	}
	return nil
}
