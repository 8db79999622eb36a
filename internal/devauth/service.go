// Package devauth is a development stand-in for the wordcheck auth backend
// and the WeChat login runtime. It issues single-use login codes, exchanges
// them for HS256 tokens and serves the user endpoints the session agent
// talks to.
package devauth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/wordcheck/session-agent/internal/config"
	"github.com/wordcheck/session-agent/internal/model"
)

var (
	ErrMisconfigured = errors.New("devauth misconfigured")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrCodeUnknown   = errors.New("unknown or expired login code")
	ErrCodeUsed      = errors.New("login code already used")
	ErrUserNotFound  = errors.New("user not found")
	ErrBadPayload    = errors.New("cannot decrypt phone payload")
)

const defaultOpenID = "dev-openid"

var phonePattern = regexp.MustCompile(`^1\d{10}$`)

type Service struct {
	codeMu   sync.Mutex
	issued   *ttlcache.Cache[string, string]
	consumed *ttlcache.Cache[string, struct{}]

	mu       sync.Mutex
	users    map[string]*model.DevUser
	byID     map[int64]*model.DevUser
	nextID   int64
	failures []int

	jwtSecret []byte
	tokenTTL  time.Duration
	codeTTL   time.Duration
}

type devClaims struct {
	OpenID string `json:"openid"`
	jwt.RegisteredClaims
}

func NewService(cfg config.DevAuthConfig) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("%w: DEVAUTH_JWT_SECRET is required", ErrMisconfigured)
	}
	tokenTTL := cfg.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = 7 * 24 * time.Hour
	}
	codeTTL := cfg.CodeTTL
	if codeTTL <= 0 {
		codeTTL = 5 * time.Minute
	}

	return &Service{
		issued: ttlcache.New(
			ttlcache.WithTTL[string, string](codeTTL),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
		// consumed codes are remembered longer than they live so reuse is
		// reported as such instead of as an unknown code
		consumed: ttlcache.New(
			ttlcache.WithTTL[string, struct{}](2*codeTTL),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
		users:     make(map[string]*model.DevUser),
		byID:      make(map[int64]*model.DevUser),
		jwtSecret: []byte(cfg.JWTSecret),
		tokenTTL:  tokenTTL,
		codeTTL:   codeTTL,
	}, nil
}

// Start runs the cache janitors until Stop.
func (s *Service) Start() {
	go s.issued.Start()
	go s.consumed.Start()
}

func (s *Service) Stop() {
	s.issued.Stop()
	s.consumed.Stop()
}

// IssueCode plays wx.login: a fresh single-use code bound to openID.
func (s *Service) IssueCode(openID string) string {
	if strings.TrimSpace(openID) == "" {
		openID = defaultOpenID
	}
	code := strings.ReplaceAll(uuid.NewString(), "-", "")
	s.issued.Set(code, openID, ttlcache.DefaultTTL)
	return code
}

// InjectFailures makes the next exchanges fail with the given HTTP statuses.
func (s *Service) InjectFailures(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, statuses...)
}

func (s *Service) nextFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failures) == 0 {
		return 0
	}
	status := s.failures[0]
	s.failures = s.failures[1:]
	return status
}

// Exchange consumes code and returns a token for its user, creating the
// user on first login.
func (s *Service) Exchange(code string) (string, *model.DevUser, error) {
	openID, err := s.consume(code)
	if err != nil {
		return "", nil, err
	}

	user := s.userFor(openID)
	token, err := s.generateAccessToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (s *Service) consume(code string) (string, error) {
	s.codeMu.Lock()
	defer s.codeMu.Unlock()
	if s.consumed.Has(code) {
		return "", ErrCodeUsed
	}
	item := s.issued.Get(code)
	if item == nil {
		return "", ErrCodeUnknown
	}
	s.issued.Delete(code)
	s.consumed.Set(code, struct{}{}, ttlcache.DefaultTTL)
	return item.Value(), nil
}

func (s *Service) userFor(openID string) *model.DevUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[openID]; ok {
		return u
	}
	s.nextID++
	u := &model.DevUser{
		ID:        s.nextID,
		OpenID:    openID,
		Nickname:  fmt.Sprintf("wordcheck-%d", s.nextID),
		Points:    100,
		CreatedAt: time.Now(),
	}
	s.users[openID] = u
	s.byID[u.ID] = u
	return u
}

func (s *Service) User(id int64) (*model.DevUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

// BindPhone "decrypts" the payload: in development encryptedData is the
// base64 encoded phone number and iv only has to be present.
func (s *Service) BindPhone(id int64, encryptedData, iv string) (string, error) {
	if strings.TrimSpace(iv) == "" {
		return "", ErrBadPayload
	}
	raw, err := base64.StdEncoding.DecodeString(encryptedData)
	if err != nil {
		return "", ErrBadPayload
	}
	phone := strings.TrimSpace(string(raw))
	if !phonePattern.MatchString(phone) {
		return "", ErrBadPayload
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return "", ErrUserNotFound
	}
	u.PhoneNumber = phone
	return phone, nil
}

func (s *Service) ParseAccessToken(tokenStr string) (*model.AuthUser, error) {
	claims := &devClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthorized
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrUnauthorized
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrUnauthorized
	}
	return &model.AuthUser{ID: userID, OpenID: claims.OpenID}, nil
}

func (s *Service) generateAccessToken(user *model.DevUser) (string, error) {
	now := time.Now()
	claims := devClaims{
		OpenID: user.OpenID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
