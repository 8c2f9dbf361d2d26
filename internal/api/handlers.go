package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Lugzan151892/gradiorai-backend/internal/auth"
	"github.com/Lugzan151892/gradiorai-backend/internal/broadcast"
	"github.com/Lugzan151892/gradiorai-backend/internal/extractor"
	"github.com/Lugzan151892/gradiorai-backend/internal/gpt"
	"github.com/Lugzan151892/gradiorai-backend/internal/interview"
	"github.com/Lugzan151892/gradiorai-backend/internal/models"
	"github.com/Lugzan151892/gradiorai-backend/internal/rating"
	redisclient "github.com/Lugzan151892/gradiorai-backend/internal/redis"
)

const generateLimitKey = "gpt-generate-limit"

// Handler wires the HTTP surface to the services.
type Handler struct {
	auth        *auth.Service
	interviews  *interview.Service
	gpt         *gpt.Service
	ratings     *rating.Service
	hub         *broadcast.Hub
	extract     extractor.Extractor
	rdb         *redisclient.Client
	logger      *zap.Logger
	generateTTL time.Duration
}

func NewHandler(
	authSvc *auth.Service,
	interviews *interview.Service,
	gptSvc *gpt.Service,
	ratings *rating.Service,
	hub *broadcast.Hub,
	extract extractor.Extractor,
	rdb *redisclient.Client,
	logger *zap.Logger,
	generateTTL time.Duration,
) *Handler {
	if generateTTL <= 0 {
		generateTTL = 72 * time.Hour
	}
	return &Handler{
		auth:        authSvc,
		interviews:  interviews,
		gpt:         gptSvc,
		ratings:     ratings,
		hub:         hub,
		extract:     extract,
		rdb:         rdb,
		logger:      logger,
		generateTTL: generateTTL,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)
	api.GET("/rating/top", h.ratingTop)
	api.POST("/gpt/generate", h.generateQuestions)
	api.GET("/interview/stream", h.streamEvents)

	authMW := h.auth.Middleware()
	api.POST("/users/logout", authMW, h.logoutUser)

	iv := api.Group("/interview")
	iv.Use(authMW)
	iv.POST("/create", h.createInterview)
	iv.GET("", h.getInterview)
	iv.GET("/user-interviews", auth.RequireAdmin(), h.userInterviews)
	iv.POST("/message", h.addMessage)
	iv.POST("/chat/continue", h.continueChat)
	iv.DELETE("/delete", auth.RequireAdmin(), h.deleteInterview)
	iv.POST("/test-resume", h.testResume)

	settings := api.Group("/gpt/settings")
	settings.Use(authMW, auth.RequireAdmin())
	settings.GET("", h.getSettings)
	settings.POST("", h.saveSettings)
}

func (h *Handler) getSettings(c *gin.Context) {
	kind := gpt.SettingsKind(c.Query("kind"))
	st, err := h.gpt.Settings().Get(c.Request.Context(), kind)
	if err != nil {
		if errors.Is(err, gpt.ErrUnknownKind) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) saveSettings(c *gin.Context) {
	var st gpt.Settings
	if err := c.ShouldBindJSON(&st); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.gpt.Settings().Save(c.Request.Context(), st); err != nil {
		if errors.Is(err, gpt.ErrUnknownKind) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.auth.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookie(c, authToken)
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"admin":      user.Admin,
		"auth_token": authToken,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	if token, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.auth.RevokeToken(c.Request.Context(), token); err != nil {
			h.logger.Warn("revoke token", zap.Error(err))
		}
	}
	h.clearAuthCookie(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) setAuthCookie(c *gin.Context, authToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.auth.AuthCookieName(), authToken, ttl, "/", "", secure, true)
}

func (h *Handler) clearAuthCookie(c *gin.Context) {
	secure := gin.Mode() == gin.ReleaseMode
	c.SetCookie(h.auth.AuthCookieName(), "", -1, "/", "", secure, true)
}

func (h *Handler) createInterview(c *gin.Context) {
	user, ok := auth.UserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return
	}

	userPrompt := strings.TrimSpace(c.PostForm("user_prompt"))
	if userPrompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_prompt is required"})
		return
	}

	cvFile, err := c.FormFile("cv")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cv file is required"})
		return
	}
	cvText, err := h.extractUpload(cvFile)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("cv: %v", err)})
		return
	}

	var vacText string
	if vacFile, err := c.FormFile("vac"); err == nil {
		vacText, err = h.extractUpload(vacFile)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("vac: %v", err)})
			return
		}
	}

	prompt := interview.PromptWithResume(userPrompt, cvText, vacText)
	iv, err := h.interviews.Create(c.Request.Context(), user.ID, prompt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, iv)
}

func (h *Handler) extractUpload(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	return h.extract.ExtractText(fh.Filename, f)
}

func (h *Handler) getInterview(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	iv, ok := h.ownedInterview(c, id)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, iv)
}

func (h *Handler) userInterviews(c *gin.Context) {
	user, _ := auth.UserFromContext(c)
	list, err := h.interviews.ListByUser(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

type interviewMessageRequest struct {
	InterviewID string `json:"interview_id"`
	Content     string `json:"content"`
}

func (h *Handler) addMessage(c *gin.Context) {
	var req interviewMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	if _, ok := h.ownedInterview(c, req.InterviewID); !ok {
		return
	}
	updated, err := h.interviews.AppendMessage(c.Request.Context(), req.InterviewID, req.Content, true)
	if err != nil {
		if errors.Is(err, interview.ErrFinished) {
			c.JSON(http.StatusConflict, gin.H{"error": "interview is finished"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, updated)
}

type continueRequest struct {
	InterviewID string `json:"interview_id"`
}

func (h *Handler) continueChat(c *gin.Context) {
	var req continueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	iv, ok := h.ownedInterview(c, req.InterviewID)
	if !ok {
		return
	}
	user, _ := auth.UserFromContext(c)

	if err := h.gpt.StartTurn(iv, user.Admin); err != nil {
		switch {
		case errors.Is(err, gpt.ErrTurnInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, interview.ErrFinished):
			c.JSON(http.StatusConflict, gin.H{"error": "interview is finished"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
}

type deleteInterviewRequest struct {
	ID string `json:"id"`
}

func (h *Handler) deleteInterview(c *gin.Context) {
	var req deleteInterviewRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	if err := h.interviews.Delete(c.Request.Context(), req.ID); err != nil {
		if errors.Is(err, interview.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "interview not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "interview deleted"})
}

func (h *Handler) testResume(c *gin.Context) {
	user, _ := auth.UserFromContext(c)

	cvFile, err := c.FormFile("cv")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cv file is required"})
		return
	}
	cvText, err := h.extractUpload(cvFile)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("cv: %v", err)})
		return
	}

	review, err := h.gpt.Generate(c.Request.Context(), gpt.KindResumeCheck, user.Admin, nil, cvText)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"review": review})
}

type generateRequest struct {
	Level int      `json:"level"`
	Techs []string `json:"techs"`
}

var skillLevels = map[int]string{
	1: "junior",
	2: "middle",
	3: "senior",
}

// generateQuestions produces a question set. Anonymous callers get one free
// generation, tracked both by client IP in redis and by a browser cookie.
func (h *Handler) generateQuestions(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	level, ok := skillLevels[req.Level]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "level must be 1, 2 or 3"})
		return
	}

	user := h.auth.OptionalUser(c)
	if user == nil {
		if !h.allowAnonymousGenerate(c) {
			return
		}
	}

	keywords := map[string]string{
		"$SKILL_LEVEL":      level,
		"$QUESTION_TECHS":   strings.Join(req.Techs, ", "),
		"$PASSED_QUESTIONS": "",
	}
	admin := user != nil && user.Admin

	questions, err := h.gpt.Generate(c.Request.Context(), gpt.KindTest, admin, keywords, "")
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": questions})
}

// allowAnonymousGenerate enforces the one-shot limit for unauthenticated
// callers. Local addresses skip the IP check so development is not locked
// out.
func (h *Handler) allowAnonymousGenerate(c *gin.Context) bool {
	ctx := c.Request.Context()
	ip := c.ClientIP()
	isLocal := ip == "" || ip == "::1" || ip == "127.0.0.1"

	if !isLocal {
		key := fmt.Sprintf("%s:%s", generateLimitKey, ip)
		if _, err := h.rdb.Get(ctx, key); err == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "generation already used"})
			return false
		} else if !errors.Is(err, redisclient.ErrCacheMiss) {
			h.logger.Warn("generate limit lookup", zap.Error(err))
		}
		if err := h.rdb.Set(ctx, key, time.Now().UnixMilli(), h.generateTTL); err != nil {
			h.logger.Warn("generate limit store", zap.Error(err))
		}
	}

	if _, err := c.Cookie(generateLimitKey); err == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "generation already used"})
		return false
	}
	c.SetCookie(generateLimitKey, fmt.Sprintf("%d", time.Now().UnixMilli()),
		int(h.generateTTL.Seconds()), "/", "", false, true)
	return true
}

func (h *Handler) ratingTop(c *gin.Context) {
	top, err := h.ratings.Top(c.Request.Context(), 10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": top})
}

// ownedInterview loads the interview and checks the caller may act on it.
// Writes the error response itself when the check fails.
func (h *Handler) ownedInterview(c *gin.Context, id string) (*models.Interview, bool) {
	user, ok := auth.UserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return nil, false
	}
	iv, err := h.interviews.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, interview.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("interview %s not found", id)})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if iv.UserID != user.ID && !user.Admin {
		c.JSON(http.StatusForbidden, gin.H{"error": "interview belongs to another user"})
		return nil, false
	}
	return iv, true
}
