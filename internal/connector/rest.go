package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

// restSource reads a JSON array of flat objects from an HTTP endpoint.
// Params: url (required); method (default GET), headers (map),
// timeout_seconds (default 30), data_key for responses that nest the
// array under a top-level field.
type restSource struct {
	url     string
	method  string
	headers map[string]string
	dataKey string
	client  *http.Client
}

func newRESTSource(params map[string]any) (Source, error) {
	endpoint, err := stringParam(params, "url")
	if err != nil {
		return nil, sqlflowerrors.NewConnectorError("rest", "configure", false, err)
	}

	headers := make(map[string]string)
	if raw, ok := params["headers"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	timeout := 30 * time.Second
	switch t := params["timeout_seconds"].(type) {
	case int:
		timeout = time.Duration(t) * time.Second
	case float64:
		timeout = time.Duration(t * float64(time.Second))
	}

	return &restSource{
		url:     endpoint,
		method:  strings.ToUpper(optionalString(params, "method", http.MethodGet)),
		headers: headers,
		dataKey: optionalString(params, "data_key", ""),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (s *restSource) Type() string { return "rest" }

func (s *restSource) ReadAll(ctx context.Context) (*Rowset, error) {
	req, err := http.NewRequestWithContext(ctx, s.method, s.url, nil)
	if err != nil {
		return nil, sqlflowerrors.NewConnectorError("rest", "read", false, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, sqlflowerrors.NewConnectorError("rest", "read", true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, sqlflowerrors.NewConnectorError("rest", "read", true,
			fmt.Errorf("%s %s: status %d", s.method, s.url, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, sqlflowerrors.NewConnectorError("rest", "read", false,
			fmt.Errorf("%s %s: status %d", s.method, s.url, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, sqlflowerrors.NewConnectorError("rest", "read", true, err)
	}

	records, err := s.decode(body)
	if err != nil {
		return nil, sqlflowerrors.NewConnectorError("rest", "read", false, err)
	}
	return tabulate(records), nil
}

func (s *restSource) ReadStream(ctx context.Context, chunkSize int, fn ChunkFunc) error {
	rs, err := s.ReadAll(ctx)
	if err != nil {
		return err
	}
	return streamRowset(ctx, rs, chunkSize, fn)
}

func (s *restSource) decode(body []byte) ([]map[string]any, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if s.dataKey != "" {
		obj, ok := payload.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("data_key %q set but response is not an object", s.dataKey)
		}
		payload, ok = obj[s.dataKey]
		if !ok {
			return nil, fmt.Errorf("response has no field %q", s.dataKey)
		}
	}

	list, ok := payload.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON array of objects, got %T", payload)
	}

	records := make([]map[string]any, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("element %d is not an object", i)
		}
		records = append(records, obj)
	}
	return records, nil
}

// tabulate flattens a list of objects into a rowset with the union of all
// keys as columns, sorted for determinism. Nested values are re-encoded
// as JSON strings.
func tabulate(records []map[string]any) *Rowset {
	keySet := make(map[string]bool)
	for _, rec := range records {
		for k := range rec {
			keySet[k] = true
		}
	}
	columns := make([]string, 0, len(keySet))
	for k := range keySet {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	rs := &Rowset{Columns: columns}
	for _, rec := range records {
		row := make([]any, len(columns))
		for i, col := range columns {
			v, ok := rec[col]
			if !ok {
				continue
			}
			switch v.(type) {
			case map[string]any, []any:
				encoded, err := json.Marshal(v)
				if err == nil {
					row[i] = string(encoded)
				}
			default:
				row[i] = v
			}
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs
}
