package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const (
	jwtExpiry        = 7 * 24 * time.Hour // 7 days
	minPasswordLen   = 6
	minUsernameLen   = 3
	maxUsernameLen   = 20
	loginRateWindow  = 60 * time.Second
	maxLoginAttempts = 10
)

var (
	ErrMissingCredentials = errors.New("username and password are required")
	ErrInvalidUsername    = fmt.Errorf("username must be %d-%d characters", minUsernameLen, maxUsernameLen)
	ErrInvalidPassword    = fmt.Errorf("password must be at least %d characters", minPasswordLen)
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrLoginRateLimited   = errors.New("too many login attempts, try again later")
)

// User is the public view of an account
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type tokenClaims struct {
	Username string `json:"usr"`
	jwt.RegisteredClaims
}

// Auth handles accounts and login tokens. Tokens are JWTs whose id is kept
// in auth_sessions, so logout revokes them before they expire.
type Auth struct {
	db        *DB
	jwtSecret []byte
	cost      int

	// Rate limiting for login attempts (IP -> limiter)
	rateMu   sync.Mutex
	limiters map[string]*loginLimiter
}

type loginLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewAuth creates a new Auth handler. cost is the bcrypt cost.
func NewAuth(db *DB, cost int) *Auth {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return &Auth{
		db:        db,
		jwtSecret: loadOrCreateSecret(db),
		cost:      cost,
		limiters:  make(map[string]*loginLimiter),
	}
}

// loadOrCreateSecret loads the JWT secret from the database, or generates
// and persists a new one if none exists.
func loadOrCreateSecret(db *DB) []byte {
	if h := db.GetSetting("jwt_secret"); h != "" {
		if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
			return b
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("failed to generate JWT secret: " + err.Error())
	}
	if err := db.SetSetting("jwt_secret", hex.EncodeToString(secret)); err != nil {
		log.Printf("warning: could not persist JWT secret: %v", err)
	}
	return secret
}

// Register creates a new account
func (a *Auth) Register(username, password string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return User{}, ErrMissingCredentials
	}
	if n := len([]rune(username)); n < minUsernameLen || n > maxUsernameLen {
		return User{}, ErrInvalidUsername
	}
	if len(password) < minPasswordLen {
		return User{}, ErrInvalidPassword
	}

	exists, err := a.db.UsernameExists(username)
	if err != nil {
		return User{}, fmt.Errorf("check username: %w", err)
	}
	if exists {
		return User{}, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := a.db.CreateUser(username, string(hash))
	if errors.Is(err, ErrUsernameTaken) {
		return User{}, ErrUsernameTaken
	}
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return User{ID: strconv.FormatInt(id, 10), Username: username}, nil
}

// Login checks credentials and issues a token
func (a *Auth) Login(username, password, ip string) (User, string, error) {
	if username == "" || password == "" {
		return User{}, "", ErrMissingCredentials
	}
	if !a.allowLogin(ip) {
		return User{}, "", ErrLoginRateLimited
	}

	row, err := a.db.GetUserByUsername(strings.TrimSpace(username))
	if err != nil {
		return User{}, "", fmt.Errorf("load user: %w", err)
	}
	if row == nil {
		return User{}, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.PassHash), []byte(password)); err != nil {
		return User{}, "", ErrInvalidCredentials
	}

	token, err := a.issueToken(row.ID, row.Username)
	if err != nil {
		return User{}, "", err
	}
	return User{ID: strconv.FormatInt(row.ID, 10), Username: row.Username}, token, nil
}

// Verify validates a token and checks it has not been revoked
func (a *Auth) Verify(tokenStr string) (User, error) {
	if tokenStr == "" {
		return User{}, ErrInvalidToken
	}
	c, err := a.parse(tokenStr)
	if err != nil {
		return User{}, err
	}
	active, err := a.db.AuthSessionActive(c.ID)
	if err != nil {
		return User{}, fmt.Errorf("check session: %w", err)
	}
	if !active {
		return User{}, ErrInvalidToken
	}
	return User{ID: c.Subject, Username: c.Username}, nil
}

// Logout revokes a token. Unknown or invalid tokens are ignored.
func (a *Auth) Logout(tokenStr string) error {
	if tokenStr == "" {
		return nil
	}
	c, err := a.parse(tokenStr)
	if err != nil {
		return nil
	}
	return a.db.DeleteAuthSession(c.ID)
}

func (a *Auth) parse(tokenStr string) (*tokenClaims, error) {
	c := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, c, func(t *jwt.Token) (any, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if c.ID == "" || c.Subject == "" {
		return nil, ErrInvalidToken
	}
	return c, nil
}

func (a *Auth) issueToken(userID int64, username string) (string, error) {
	now := time.Now()
	exp := now.Add(jwtExpiry)
	c := tokenClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	if err := a.db.CreateAuthSession(c.ID, userID, exp); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return signed, nil
}

func (a *Auth) allowLogin(ip string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	l, ok := a.limiters[ip]
	if !ok {
		l = &loginLimiter{lim: rate.NewLimiter(rate.Every(loginRateWindow/maxLoginAttempts), maxLoginAttempts)}
		a.limiters[ip] = l
	}
	l.seen = time.Now()
	return l.lim.Allow()
}

// PruneLimiters drops login limiters idle for at least idle. A limiter idle
// for a full loginRateWindow has refilled, so dropping it loses nothing.
func (a *Auth) PruneLimiters(idle time.Duration) int {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	cutoff := time.Now().Add(-idle)
	n := 0
	for ip, l := range a.limiters {
		if !l.seen.After(cutoff) {
			delete(a.limiters, ip)
			n++
		}
	}
	return n
}
