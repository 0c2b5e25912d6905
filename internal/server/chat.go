package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"paperdesk/internal/runtime"
	"paperdesk/internal/session"
)

// ChatRunner is the agent surface the chat endpoint drives.
type ChatRunner interface {
	Run(ctx context.Context, history []session.Message, input string) (string, error)
}

type ChatHandler struct {
	Agent    ChatRunner
	Sessions session.Store
}

func (h *ChatHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.chat)
	g.GET("/history", h.history)
}

// Chat
//
//	@Summary		Converse with the research assistant
//	@Description	Runs one agent turn against the caller's transcript
//	@Tags			chat
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		ChatRequest	true	"Chat payload"
//	@Success		200		{object}	ChatResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		401		{object}	HTTPError
//	@Failure		500		{object}	HTTPError
//	@Router			/api/chat [post]
func (h *ChatHandler) chat(c echo.Context) error {
	userID := c.Get("user_id").(string)
	var req ChatRequest
	if err := c.Bind(&req); err != nil || req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}

	transcript := h.Sessions.Ensure(userID)
	history := transcript.History()

	reply, err := h.Agent.Run(c.Request().Context(), history, req.Message)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "An error occurred: "+err.Error())
	}

	transcript.Append("user", req.Message)
	transcript.Append("assistant", reply)
	return c.JSON(http.StatusOK, ChatResponse{Response: reply})
}

// History
//
//	@Summary	Return the caller's conversation transcript
//	@Tags		chat
//	@Produce	json
//	@Success	200	{array}	ChatHistoryMessage
//	@Router		/api/chat/history [get]
func (h *ChatHandler) history(c echo.Context) error {
	userID := c.Get("user_id").(string)
	out := []ChatHistoryMessage{}
	if transcript, ok := h.Sessions.Get(userID); ok {
		for _, m := range transcript.History() {
			out = append(out, ChatHistoryMessage{
				ID:        m.ID,
				Role:      m.Role,
				Content:   m.Content,
				CreatedAt: m.CreatedAt.Format(time.RFC3339),
			})
		}
	}
	return c.JSON(http.StatusOK, out)
}
