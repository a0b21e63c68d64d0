package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/roomchat/internal/auth"
	"github.com/suPer8Hu/roomchat/internal/common"
	"github.com/suPer8Hu/roomchat/internal/httpapi/middleware"
	"github.com/suPer8Hu/roomchat/internal/logx"
	"github.com/suPer8Hu/roomchat/internal/models"
	"gorm.io/gorm"
)

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Username == "" || req.Email == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "username, email and password required")
		return
	}

	ctx := c.Request.Context()
	var cnt int64
	if err := h.DB.WithContext(ctx).Model(&models.User{}).Where("email = ?", req.Email).Count(&cnt).Error; err != nil {
		writeError(c, err)
		return
	}
	if cnt > 0 {
		common.Fail(c, http.StatusBadRequest, 10003, "email already registered")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to hash password")
		return
	}

	user := models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
	}
	if err := h.DB.WithContext(ctx).Create(&user).Error; err != nil {
		// lost a race on the unique email index
		common.Fail(c, http.StatusBadRequest, 10003, "failed to create user (maybe email already exists)")
		return
	}

	logx.Audit(ctx, logx.ActionRegister, user.ID, "user registered")
	c.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"id":      user.ID,
	})
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email and password required")
		return
	}

	ctx := c.Request.Context()
	var user models.User
	if err := h.DB.WithContext(ctx).Where("email = ?", req.Email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid credentials")
			return
		}
		writeError(c, err)
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40102, "invalid credentials")
		return
	}

	token, err := auth.SignJWT(auth.Identity{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
	}, h.Cfg.JWTSecret, h.Cfg.JWTTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to sign token")
		return
	}

	logx.Audit(ctx, logx.ActionLogin, user.ID, "user logged in")
	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  user.Username,
	})
}

func (h *Handler) Me(c *gin.Context) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	common.OK(c, gin.H{
		"id":       id.UserID,
		"username": id.Username,
		"email":    id.Email,
	})
}
