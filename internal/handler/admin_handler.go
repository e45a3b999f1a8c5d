package handler

import (
	"net/http"

	"marketplace-auth/internal/authz"
	"marketplace-auth/internal/models"
	"marketplace-auth/internal/service"
	"marketplace-auth/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AdminHandler serves invitation and account management endpoints.
type AdminHandler struct {
	invitations *service.InvitationService
	admin       *service.AdminService
	mw          *Middleware
	logger      *zap.Logger
}

func NewAdminHandler(invitations *service.InvitationService, admin *service.AdminService, mw *Middleware, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		invitations: invitations,
		admin:       admin,
		mw:          mw,
		logger:      logger,
	}
}

var (
	manageAdmins = authz.Requirement{
		Roles:       []models.Role{models.RoleAdmin},
		Permissions: models.NewPermissionSet(models.PermManageAdmins),
	}
	manageAccounts = authz.Requirement{
		Roles: []models.Role{models.RoleAdmin},
		Permissions: models.NewPermissionSet(
			models.PermManageUsers, models.PermManageCustomers, models.PermManageVendors,
		),
	}
)

type createInvitationRequest struct {
	Email     string           `json:"email"`
	AdminType models.AdminType `json:"adminType"`
}

type acceptInvitationRequest struct {
	Token       string `json:"token"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phoneNumber"`
	Department  string `json:"department"`
}

type userStatusRequest struct {
	IsActive *bool `json:"isActive"`
}

type adminTypeRequest struct {
	AdminType models.AdminType `json:"adminType"`
}

// RegisterRoutes registers all admin routes
func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Route("/admin", func(r chi.Router) {
		// Public: the invitee has no account yet.
		r.Get("/invitations/{token}/validate", h.ValidateInvitation)
		r.Post("/invitations/accept", h.AcceptInvitation)

		r.Group(func(r chi.Router) {
			r.Use(h.mw.RequireAuth)

			r.With(h.mw.Require(manageAdmins)).Post("/invitations", h.CreateInvitation)
			r.With(h.mw.Require(manageAdmins)).Get("/invitations", h.ListInvitations)
			r.With(h.mw.Require(manageAdmins)).Delete("/invitations/{id}", h.CancelInvitation)
			r.With(h.mw.Require(manageAccounts)).Patch("/users/{id}/status", h.UpdateUserStatus)
			r.With(h.mw.Require(manageAdmins)).Put("/users/{id}/admin-type", h.UpdateAdminType)
		})
	})
}

func (h *AdminHandler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	var req createInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	p, _ := authz.PrincipalFrom(r.Context())
	inv, err := h.invitations.Create(r.Context(), p, req.Email, req.AdminType, requestMeta(r))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, successResponse(inv, "Invitation sent"))
}

func (h *AdminHandler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	status := models.InvitationStatus(r.URL.Query().Get("status"))
	list, err := h.invitations.List(r.Context(), status)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(list, ""))
}

func (h *AdminHandler) CancelInvitation(w http.ResponseWriter, r *http.Request) {
	p, _ := authz.PrincipalFrom(r.Context())
	if err := h.invitations.Cancel(r.Context(), p, chi.URLParam(r, "id"), requestMeta(r)); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Invitation cancelled"))
}

func (h *AdminHandler) ValidateInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invitations.Validate(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"valid":     true,
		"email":     inv.Email,
		"adminType": inv.AdminType,
		"expiresAt": inv.ExpiresAt,
	}, ""))
}

func (h *AdminHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req acceptInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	user, err := h.invitations.Accept(r.Context(), service.AcceptInvitationInput{
		Token:       req.Token,
		Username:    req.Username,
		Password:    req.Password,
		PhoneNumber: req.PhoneNumber,
		Department:  req.Department,
	}, requestMeta(r))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, successResponse(user.Summary(), "Admin account created"))
}

func (h *AdminHandler) UpdateUserStatus(w http.ResponseWriter, r *http.Request) {
	var req userStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	if req.IsActive == nil {
		respondWithError(w, r, h.logger, &service.ValidationError{Field: "isActive", Reason: "is required"})
		return
	}
	p, _ := authz.PrincipalFrom(r.Context())
	user, err := h.admin.SetUserStatus(r.Context(), p, chi.URLParam(r, "id"), *req.IsActive, requestMeta(r))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(user.Summary(), "User status updated"))
}

func (h *AdminHandler) UpdateAdminType(w http.ResponseWriter, r *http.Request) {
	var req adminTypeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	p, _ := authz.PrincipalFrom(r.Context())
	user, err := h.admin.SetAdminType(r.Context(), p, chi.URLParam(r, "id"), req.AdminType)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	h.logger.Info("Admin type updated via HTTP",
		util.String("user_id", user.ID),
		util.String("changed_by", p.UserID),
	)
	respondWithJSON(w, http.StatusOK, successResponse(user.Summary(), "Admin type updated"))
}
