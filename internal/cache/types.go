package cache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Storage 管理 bucket 生命周期：按名称惰性创建、枚举与整体删除。
type Storage interface {
	// Open 幂等地打开（必要时创建）bucket，后端故障返回包装了 ErrStorageUnavailable 的错误。
	Open(ctx context.Context, name string) (Bucket, error)

	// Names 返回当前已存在的 bucket 名称，按字典序排列。
	Names(ctx context.Context) ([]string, error)

	// Delete 删除整个 bucket，返回是否真的删除了内容。
	Delete(ctx context.Context, name string) (bool, error)

	// Close 释放后端连接。
	Close() error
}

// Bucket 是一个持久化的 请求身份 → 响应 映射，写入遵循 last-write-wins。
type Bucket interface {
	Name() string

	// Match 返回 req 对应的缓存响应，不存在时返回 ErrNotFound。
	Match(ctx context.Context, req Request) (*Response, error)

	// Put 覆盖写入 req 对应的响应。
	Put(ctx context.Context, req Request, resp *Response) error

	// Keys 返回 bucket 内全部请求身份，供诊断接口使用。
	Keys(ctx context.Context) ([]string, error)
}

// Request 描述一次被拦截的请求，URL 必须是包含 query 的完整地址。
type Request struct {
	Method string
	URL    string
	Header http.Header
}

// Key 返回请求身份：METHOD + 空格 + 完整 URL。
func (r Request) Key() string {
	return RequestKey(r.Method, r.URL)
}

// RequestKey 由方法与 URL 拼出缓存键，方法缺省视为 GET。
func RequestKey(method, url string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + url
}

// Response 是可落盘的响应快照。
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Clone 返回深拷贝，避免调用方修改缓存中的 Header/Body。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := &Response{
		Status:   r.Status,
		Header:   r.Header.Clone(),
		StoredAt: r.StoredAt,
	}
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return cloned
}

// Fetcher 负责真正的网络请求；HTTP 错误状态码不是 error，只有网络层失败才返回 error。
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

var (
	// ErrNotFound 表示 bucket 中不存在该请求。
	ErrNotFound = errors.New("cache entry not found")

	// ErrStorageUnavailable 表示存储后端无法读写（配额、权限、连接失败等）。
	ErrStorageUnavailable = errors.New("cache storage unavailable")

	// ErrAssetFetchFailed 标记清单中的单个资源预取失败。
	ErrAssetFetchFailed = errors.New("asset fetch failed")

	// ErrInvalidBucketName 表示 bucket 名称为空或包含路径分隔符。
	ErrInvalidBucketName = errors.New("invalid bucket name")
)

// IsStorable 判断响应能否写入 bucket：只接受完整的 2xx 响应（206 除外）。
func IsStorable(resp *Response) bool {
	if resp == nil {
		return false
	}
	return resp.Status >= 200 && resp.Status < 300 && resp.Status != http.StatusPartialContent
}

func validateBucketName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return ErrInvalidBucketName
	}
	return nil
}
