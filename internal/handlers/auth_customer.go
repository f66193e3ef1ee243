package handlers

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/database"
	"storefront/internal/models"
)

// TokenConfig carries the signing secret and lifetimes shared by every
// login flow.
type TokenConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type RegisterRequest struct {
	FirstName string `json:"firstName" binding:"required"`
	LastName  string `json:"lastName" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	Phone     string `json:"phone"`
}

type LoginResponseUser struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Role      string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

var (
	errBadCredentials = errors.New("invalid credentials")
	errInactive       = errors.New("user is inactive")
)

func Register(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /auth/register"
		defer handlePanic(c, route)

		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		customer, err := createCustomer(c.Request.Context(), db, req, models.RoleUser)
		if err != nil {
			respondCreateCustomerError(c, route, err)
			return
		}

		zap.L().Info("customer registered", zap.String("email", customer.Email))
		c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully", "id": customer.ID.Hex()})
	}
}

func Login(db *mongo.Database, tokens TokenConfig) gin.HandlerFunc {
	return loginHandler(db, tokens, "POST /auth/login")
}

func loginHandler(db *mongo.Database, tokens TokenConfig, route string, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, route)

		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		customer, err := authenticate(c.Request.Context(), db, req.Email, req.Password, roles...)
		switch {
		case errors.Is(err, errBadCredentials):
			respondWithError(c, http.StatusUnauthorized, route, err.Error())
			return
		case errors.Is(err, errInactive):
			respondWithError(c, http.StatusForbidden, route, err.Error())
			return
		case err != nil:
			zap.L().Error("login lookup failed", zap.String("route", route), zap.Error(err))
			respondWithError(c, http.StatusInternalServerError, route, "db error")
			return
		}

		issued, err := issueTokens(c.Request.Context(), db, customer, tokens)
		if err != nil {
			zap.L().Error("token generation failed", zap.String("route", route), zap.Error(err))
			respondWithError(c, http.StatusInternalServerError, route, "token generation failed")
			return
		}

		zap.L().Info("login succeeded", zap.String("email", customer.Email), zap.String("role", customer.Role))
		c.JSON(http.StatusOK, tokenResponse(issued, customer))
	}
}

func Refresh(db *mongo.Database, tokens TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /auth/refresh"
		defer handlePanic(c, route)

		var req RefreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		refreshTokens := db.Collection(database.RefreshTokensCollection)
		var token models.RefreshToken
		if err := refreshTokens.FindOne(ctx, bson.M{
			"tokenHash": hashToken(strings.TrimSpace(req.RefreshToken)),
			"revoked":   false,
		}).Decode(&token); err != nil {
			respondWithError(c, http.StatusUnauthorized, route, "invalid refresh token")
			return
		}

		if time.Now().After(token.ExpiresAt) {
			_, _ = refreshTokens.UpdateByID(ctx, token.ID, bson.M{"$set": bson.M{"revoked": true}})
			respondWithError(c, http.StatusUnauthorized, route, "refresh token expired")
			return
		}

		var customer models.Customer
		if err := db.Collection(database.CustomersCollection).FindOne(ctx, bson.M{"_id": token.CustomerID}).Decode(&customer); err != nil {
			respondWithError(c, http.StatusUnauthorized, route, "user not found")
			return
		}
		if !customer.IsActive {
			respondWithError(c, http.StatusForbidden, route, errInactive.Error())
			return
		}

		issued, err := issueTokens(ctx, db, customer, tokens)
		if err != nil {
			zap.L().Error("token generation failed", zap.String("route", route), zap.Error(err))
			respondWithError(c, http.StatusInternalServerError, route, "token generation failed")
			return
		}

		_, _ = refreshTokens.UpdateByID(ctx, token.ID, bson.M{
			"$set": bson.M{
				"revoked":         true,
				"replacedByToken": issued.RefreshTokenID,
			},
		})

		c.JSON(http.StatusOK, tokenResponse(issued, customer))
	}
}

func Logout(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /auth/logout"
		defer handlePanic(c, route)

		var req RefreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		res, err := db.Collection(database.RefreshTokensCollection).UpdateOne(ctx, bson.M{
			"tokenHash": hashToken(strings.TrimSpace(req.RefreshToken)),
			"revoked":   false,
		}, bson.M{"$set": bson.M{"revoked": true}})
		if err != nil {
			zap.L().Error("logout failed", zap.Error(err))
			respondWithError(c, http.StatusInternalServerError, route, "db error")
			return
		}
		if res.MatchedCount == 0 {
			respondWithError(c, http.StatusUnauthorized, route, "invalid refresh token")
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "logged out"})
	}
}

// authenticate checks credentials against the customers collection. When
// roles is non-empty the account must hold one of them; other accounts get
// the same answer as a wrong password.
func authenticate(ctx context.Context, db *mongo.Database, email, password string, roles ...string) (models.Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || strings.TrimSpace(password) == "" {
		return models.Customer{}, errBadCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var customer models.Customer
	err := db.Collection(database.CustomersCollection).FindOne(ctx, bson.M{"email": email}).Decode(&customer)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Customer{}, errBadCredentials
	}
	if err != nil {
		return models.Customer{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(customer.PasswordHash), []byte(password)); err != nil {
		return models.Customer{}, errBadCredentials
	}
	if len(roles) > 0 && !slices.Contains(roles, customer.Role) {
		return models.Customer{}, errBadCredentials
	}
	if !customer.IsActive {
		return models.Customer{}, errInactive
	}
	return customer, nil
}

var errEmailTaken = errors.New("email already registered")

func createCustomer(ctx context.Context, db *mongo.Database, req RegisterRequest, role string) (models.Customer, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.Customer{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	customer := models.Customer{
		ID:           primitive.NewObjectID(),
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Email:        email,
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: string(hash),
		IsActive:     true,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// The unique email index settles concurrent registrations.
	if _, err := db.Collection(database.CustomersCollection).InsertOne(ctx, customer); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.Customer{}, errEmailTaken
		}
		return models.Customer{}, err
	}
	return customer, nil
}

func respondCreateCustomerError(c *gin.Context, route string, err error) {
	if errors.Is(err, errEmailTaken) {
		respondWithError(c, http.StatusConflict, route, err.Error())
		return
	}
	zap.L().Error("customer insert failed", zap.String("route", route), zap.Error(err))
	respondWithError(c, http.StatusInternalServerError, route, "db error")
}

type issuedTokens struct {
	AccessToken    string
	RefreshToken   string
	RefreshTokenID primitive.ObjectID
	ExpiresIn      int64
}

func tokenResponse(issued *issuedTokens, customer models.Customer) gin.H {
	return gin.H{
		"accessToken":  issued.AccessToken,
		"refreshToken": issued.RefreshToken,
		"expiresIn":    issued.ExpiresIn,
		"user": LoginResponseUser{
			ID:        customer.ID.Hex(),
			FirstName: customer.FirstName,
			LastName:  customer.LastName,
			Email:     customer.Email,
			Role:      customer.Role,
		},
	}
}

func signAccessToken(customer models.Customer, secret string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":   customer.ID.Hex(),
		"role":  customer.Role,
		"email": customer.Email,
		"exp":   now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func issueTokens(ctx context.Context, db *mongo.Database, customer models.Customer, cfg TokenConfig) (*issuedTokens, error) {
	now := time.Now()
	accessToken, err := signAccessToken(customer, cfg.Secret, cfg.AccessTTL, now)
	if err != nil {
		return nil, err
	}

	plainRefresh := generateRefreshString()
	if plainRefresh == "" {
		return nil, errors.New("could not generate refresh token")
	}

	refresh := models.RefreshToken{
		ID:         primitive.NewObjectID(),
		CustomerID: customer.ID,
		TokenHash:  hashToken(plainRefresh),
		ExpiresAt:  now.Add(cfg.RefreshTTL),
		CreatedAt:  now,
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := db.Collection(database.RefreshTokensCollection).InsertOne(ctx, refresh); err != nil {
		return nil, err
	}

	return &issuedTokens{
		AccessToken:    accessToken,
		RefreshToken:   plainRefresh,
		RefreshTokenID: refresh.ID,
		ExpiresIn:      int64(cfg.AccessTTL.Seconds()),
	}, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateRefreshString() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
