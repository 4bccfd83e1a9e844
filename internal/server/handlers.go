package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hezronokwach/harvest/internal/signaling"
)

// marketPrices are reference prices per kilogram used to seed the
// negotiation UI. Unlisted crops fall back to 1.0.
var marketPrices = map[string]float64{
	"maize": 1.25,
	"beans": 0.85,
}

// ErrorResponse is the JSON body for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CallRequest identifies the two personas and the meeting a call
// operation applies to.
type CallRequest struct {
	FromPersona string `json:"from_persona" binding:"required"`
	ToPersona   string `json:"to_persona"`
	MeetingID   string `json:"meeting_id"`
}

// NegotiationRequest names the meeting whose call room should be
// started or torn down.
type NegotiationRequest struct {
	MeetingID string `json:"meeting_id" binding:"required"`
}

// CallStatusResponse reports the result of a signaling operation.
type CallStatusResponse struct {
	Status string `json:"status"`
	Room   string `json:"room,omitempty"`
}

// TokenResponse carries a signed room access token.
type TokenResponse struct {
	Token     string `json:"token"`
	Room      string `json:"room"`
	Persona   string `json:"persona"`
	ExpiresAt string `json:"expires_at"`
}

// MarketPriceResponse reports the reference price for a crop.
type MarketPriceResponse struct {
	Crop  string  `json:"crop"`
	Price float64 `json:"price"`
	Unit  string  `json:"unit"`
}

// PersonaStatusResponse reports presence for a persona.
type PersonaStatusResponse struct {
	Persona string `json:"persona"`
	Status  string `json:"status"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "harvestd",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRoomToken(c *gin.Context) {
	persona := c.Query("persona")
	if persona == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "persona is required"})
		return
	}

	roomName := c.Query("room")
	if roomName == "" {
		roomName = signaling.PresenceRoomName(persona)
	}

	token, err := s.tokens.Issue(roomName, persona)
	if err != nil {
		s.logger.WithError(err).Error("failed to issue room token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		Room:      roomName,
		Persona:   persona,
		ExpiresAt: time.Now().Add(s.cfg.Auth.TokenExpiry).UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStartNegotiation(c *gin.Context) {
	var req NegotiationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	roomName := signaling.CallRoomName(req.MeetingID)
	status, err := s.signaling.StartCall(c.Request.Context(), roomName)
	if err != nil {
		s.logger.WithError(err).WithField("room", roomName).Error("failed to start negotiation")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, CallStatusResponse{Status: status, Room: roomName})
}

func (s *Server) handleEndNegotiation(c *gin.Context) {
	var req NegotiationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	roomName := signaling.CallRoomName(req.MeetingID)
	s.signaling.EndCall(roomName)
	c.JSON(http.StatusOK, CallStatusResponse{Status: "ended", Room: roomName})
}

func (s *Server) handleListSessions(c *gin.Context) {
	records, err := s.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": records, "total": len(records)})
}

func (s *Server) handleGetSession(c *gin.Context) {
	record, err := s.store.Get(c.Request.Context(), c.Param("room"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleCallOffer(c *gin.Context) {
	var req CallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.ToPersona == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "to_persona is required"})
		return
	}

	status, err := s.signaling.Offer(c.Request.Context(), req.FromPersona, req.ToPersona)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, CallStatusResponse{Status: status})
}

func (s *Server) handleCallAccept(c *gin.Context) {
	var req CallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.ToPersona == "" || req.MeetingID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "to_persona and meeting_id are required"})
		return
	}

	status, callRoom, err := s.signaling.Accept(c.Request.Context(), req.FromPersona, req.ToPersona, req.MeetingID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, CallStatusResponse{Status: status, Room: callRoom})
}

func (s *Server) handleCallDecline(c *gin.Context) {
	var req CallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.ToPersona == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "to_persona is required"})
		return
	}

	if err := s.signaling.Decline(c.Request.Context(), req.FromPersona, req.ToPersona); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, CallStatusResponse{Status: signaling.StatusDeclined})
}

func (s *Server) handleMarketPrice(c *gin.Context) {
	crop := strings.ToLower(c.Param("crop"))
	price, ok := marketPrices[crop]
	if !ok {
		price = 1.0
	}
	c.JSON(http.StatusOK, MarketPriceResponse{Crop: crop, Price: price, Unit: "kg"})
}

func (s *Server) handlePersonaStatus(c *gin.Context) {
	persona := c.Param("persona")
	status := "offline"
	if s.signaling.PersonaOnline(persona) {
		status = "online"
	}
	c.JSON(http.StatusOK, PersonaStatusResponse{Persona: persona, Status: status})
}

// handleWebsocket upgrades observers into a room bridge. Call rooms are
// resolved through the dispatcher; presence rooms are created on demand.
func (s *Server) handleWebsocket(c *gin.Context) {
	name := c.Param("room")

	if br, ok := s.bridges.Bridge(name); ok {
		br.ServeHTTP(c.Writer, c.Request)
		return
	}

	if persona, ok := strings.CutPrefix(name, "presence-"); ok {
		br, err := s.signaling.PresenceBridge(persona)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
			return
		}
		br.ServeHTTP(c.Writer, c.Request)
		return
	}

	c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown room: " + name})
}
