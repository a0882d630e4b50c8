package handlers

import (
	"errors"
	"net/http"

	"gorm.io/gorm"

	"github.com/shwemill/millsync/internal/models"
	"github.com/shwemill/millsync/internal/utils"
)

// AuthHandler serves local login. Authentication is fully offline: the
// password is checked against the bcrypt hash stored on the device.
type AuthHandler struct {
	db        *gorm.DB
	jwtSecret string
}

func NewAuthHandler(db *gorm.DB, jwtSecret string) *AuthHandler {
	return &AuthHandler{db: db, jwtSecret: jwtSecret}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login issues a session token for valid credentials.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var user models.User
	err := h.db.WithContext(r.Context()).
		Where("username = ? AND is_active = ? AND is_deleted = ?", req.Username, true, false).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !user.CheckPassword(req.Password)) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	token, err := utils.GenerateToken(&user, h.jwtSecret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token generation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user": map[string]interface{}{
			"localId":     user.LocalID,
			"username":    user.Username,
			"displayName": user.DisplayName,
			"role":        user.Role,
		},
	})
}
