package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/profitledger/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleSupport    = "support"
)

const (
	ObjectEntitlement   = "entitlement"
	ObjectSettings      = "settings"
	ObjectCoupon        = "coupon"
	ObjectUserDiscount  = "user_discount"
	ObjectReferral      = "referral"
	ObjectPayoutRequest = "payout_request"
	ObjectPurchase      = "purchase"
	ObjectAuditLog      = "audit_log"
)

const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionRevoke = "revoke"
	ActionExport = "export"

	ActionEarningMarkPaid = "mark_paid"
	ActionPayoutDecide    = "decide"
	ActionPayoutMarkPaid  = "mark_paid"
	ActionDistribute      = "distribute"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, adminID, role, object, action string) error {
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return ErrInvalidActor
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if !knownRole(role) {
		s.auditDenied(ctx, adminID, role, object, action)
		return ErrInvalidRole
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := fmt.Sprintf("admin:%s", adminID)
	if err := s.ensureGrouping(subject, "role:"+role); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, adminID, role, object, action)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping keeps exactly one role link per admin, following whatever
// role the gateway asserted last.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, adminID, role, object, action string) {
	s.log.Warn("admin action denied",
		zap.String("admin_id", adminID),
		zap.String("role", role),
		zap.String("object", object),
		zap.String("action", action),
	)
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.Record(ctx, s.db, auditdomain.RecordRequest{
		AdminID:    adminID,
		ActionType: auditdomain.ActionAuthorizationDenied,
		EntityType: auditdomain.EntityAuthorization,
		EntityID:   object,
		Details: map[string]any{
			"object": object,
			"action": action,
			"role":   role,
		},
	})
	if err != nil {
		s.log.Warn("failed to audit denied action", zap.Error(err))
	}
}

func knownRole(role string) bool {
	switch role {
	case RoleSuperAdmin, RoleAdmin, RoleSupport:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	viewable := []string{
		ObjectEntitlement, ObjectSettings, ObjectCoupon, ObjectUserDiscount,
		ObjectReferral, ObjectPayoutRequest, ObjectPurchase, ObjectAuditLog,
	}

	policies := [][]string{
		// Admins run the day-to-day ledger but cannot change fees.
		{"role:admin", ObjectCoupon, ActionCreate},
		{"role:admin", ObjectCoupon, ActionUpdate},
		{"role:admin", ObjectUserDiscount, ActionCreate},
		{"role:admin", ObjectUserDiscount, ActionUpdate},
		{"role:admin", ObjectUserDiscount, ActionRevoke},
		{"role:admin", ObjectReferral, ActionEarningMarkPaid},
		{"role:admin", ObjectReferral, ActionExport},
		{"role:admin", ObjectPayoutRequest, ActionPayoutDecide},
		{"role:admin", ObjectPayoutRequest, ActionPayoutMarkPaid},
		{"role:admin", ObjectPurchase, ActionDistribute},

		{"role:super_admin", ObjectSettings, ActionUpdate},
	}
	for _, object := range viewable {
		policies = append(policies,
			[]string{"role:support", object, ActionView},
			[]string{"role:admin", object, ActionView},
			[]string{"role:super_admin", object, "*"},
		)
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
