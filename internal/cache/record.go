package cache

import (
	"encoding/json"
	"net/http"
	"time"
)

// entryRecord 是 file/redis 后端共用的序列化格式，Body 以 base64 存放在 JSON 中。
type entryRecord struct {
	Key      string      `json:"key"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body,omitempty"`
	StoredAt time.Time   `json:"stored_at"`
}

func encodeRecord(req Request, resp *Response, now time.Time) ([]byte, error) {
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = now.UTC()
	}
	return json.Marshal(entryRecord{
		Key:      req.Key(),
		Status:   resp.Status,
		Header:   resp.Header,
		Body:     resp.Body,
		StoredAt: storedAt,
	})
}

func decodeRecord(data []byte) (entryRecord, *Response, error) {
	var record entryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return entryRecord{}, nil, err
	}
	return record, &Response{
		Status:   record.Status,
		Header:   record.Header,
		Body:     record.Body,
		StoredAt: record.StoredAt,
	}, nil
}
