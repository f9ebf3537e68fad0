// Package policy classifies intercepted requests into a caching strategy and
// a target bucket. Rules are evaluated in priority order and the first match
// wins; the last rule is always the catch-all default, so a request that
// matches nothing is never an error. Non-GET requests are never classified.
package policy

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/cachegate/cachegate/internal/config"
)

// StrategyName 标识一种缓存策略。
type StrategyName string

const (
	CacheFirst   StrategyName = config.StrategyCacheFirst
	NetworkFirst StrategyName = config.StrategyNetworkFirst
)

// Valid 报告是否为已知策略。
func (s StrategyName) Valid() bool {
	return s == CacheFirst || s == NetworkFirst
}

// Rule 是一条有序谓词：源站 + 路径前缀 → 策略 + bucket。空 Origin/PathPrefix 表示不限制。
type Rule struct {
	Name       string
	Origin     string
	PathPrefix string
	Strategy   StrategyName
	Bucket     string
}

// Matches 判断 u 是否命中该规则。
func (r Rule) Matches(u *url.URL) bool {
	if u == nil {
		return false
	}
	if r.Origin != "" && normalizeOrigin(r.Origin) != originOf(u) {
		return false
	}
	if r.PathPrefix != "" && !strings.HasPrefix(u.Path, r.PathPrefix) {
		return false
	}
	return true
}

func (r Rule) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("rule name required")
	}
	if !r.Strategy.Valid() {
		return fmt.Errorf("rule %s: unknown strategy %q", r.Name, r.Strategy)
	}
	if strings.TrimSpace(r.Bucket) == "" {
		return fmt.Errorf("rule %s: bucket required", r.Name)
	}
	return nil
}

// Choice 是一次分类结果。
type Choice struct {
	Rule     string
	Strategy StrategyName
	Bucket   string
}

// Selector 持有按优先级排列的规则与兜底规则。
type Selector struct {
	mu       sync.RWMutex
	rules    []Rule
	fallback Rule
}

// NewSelector 以 fallback 作为最终兜底规则构建选择器，rules 按给定顺序优先匹配。
func NewSelector(fallback Rule, rules ...Rule) (*Selector, error) {
	fallback.Origin = ""
	fallback.PathPrefix = ""
	if err := fallback.validate(); err != nil {
		return nil, fmt.Errorf("default %w", err)
	}
	s := &Selector{fallback: fallback}
	for _, rule := range rules {
		if err := s.Insert(rule); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Insert 将规则追加到兜底规则之前，不改变已有规则的相对顺序。
func (s *Selector) Insert(rule Rule) error {
	if err := rule.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rules {
		if existing.Name == rule.Name {
			return fmt.Errorf("rule %s already registered", rule.Name)
		}
	}
	s.rules = append(s.rules, rule)
	return nil
}

// Classify 返回请求应走的策略；第二个返回值为 false 表示不拦截（非 GET）。
func (s *Selector) Classify(method, rawURL string) (Choice, bool) {
	if !strings.EqualFold(strings.TrimSpace(method), http.MethodGet) {
		return Choice{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, err := url.Parse(rawURL); err == nil {
		for _, rule := range s.rules {
			if rule.Matches(u) {
				return choiceOf(rule), true
			}
		}
	}
	return choiceOf(s.fallback), true
}

// Rules 返回包含兜底规则在内的完整规则表，兜底规则总在最后。
func (s *Selector) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Rule, 0, len(s.rules)+1)
	result = append(result, s.rules...)
	return append(result, s.fallback)
}

// FromConfig 依据 worker 配置构建规则表：头像规则 → 配置中的额外规则 → network-first 兜底。
func FromConfig(w config.WorkerConfig) (*Selector, error) {
	rules := []Rule{{
		Name:       "avatar",
		Origin:     w.AvatarOrigin,
		PathPrefix: w.AvatarPathPrefix,
		Strategy:   CacheFirst,
		Bucket:     w.AvatarBucket,
	}}
	for _, rc := range w.Rules {
		rules = append(rules, Rule{
			Name:       rc.Name,
			Origin:     rc.Origin,
			PathPrefix: rc.PathPrefix,
			Strategy:   StrategyName(rc.Strategy),
			Bucket:     rc.Bucket,
		})
	}
	fallback := Rule{Name: "default", Strategy: NetworkFirst, Bucket: w.StaticBucket()}
	return NewSelector(fallback, rules...)
}

func choiceOf(rule Rule) Choice {
	return Choice{Rule: rule.Name, Strategy: rule.Strategy, Bucket: rule.Bucket}
}

func originOf(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + canonicalHost(u.Scheme, u.Host)
}

func normalizeOrigin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSuffix(raw, "/"))
	}
	return originOf(u)
}

// canonicalHost 去掉与 scheme 匹配的默认端口，使 https://a:443 与 https://a 等价。
func canonicalHost(scheme, host string) string {
	host = strings.ToLower(host)
	switch strings.ToLower(scheme) {
	case "https":
		host = strings.TrimSuffix(host, ":443")
	case "http":
		host = strings.TrimSuffix(host, ":80")
	}
	return host
}
