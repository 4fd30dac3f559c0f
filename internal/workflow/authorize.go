package workflow

import (
	"fmt"

	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

// Action names an operation an actor attempts on an entity.
type Action string

const (
	ActionView        Action = "view"
	ActionEdit        Action = "edit"
	ActionSubmit      Action = "submit"
	ActionAccept      Action = "accept"
	ActionSignSeller  Action = "sign_seller"
	ActionSignBuyer   Action = "sign_buyer"
	ActionCancel      Action = "cancel"
	ActionDelete      Action = "delete"
	ActionPublish     Action = "publish"
	ActionExport      Action = "export"
	ActionFileDispute Action = "file_dispute"
	ActionMaintain    Action = "maintain"
	ActionUnpublish   Action = "unpublish"
	ActionSubmitOffer Action = "submit_offer"
	ActionResolve     Action = "resolve"
	ActionPostMessage Action = "post_message"
)

// Role is the relationship between an actor and an entity.
type Role string

const (
	RoleSeller     Role = "seller"
	RoleBuyer      Role = "buyer"
	RoleInvitee    Role = "invitee"
	RoleArbitrator Role = "arbitrator"
	RoleNone       Role = "none"
)

// Decision is the tagged outcome of an authorization check.
type Decision struct {
	Allowed bool
	Role    Role
	Reason  string
}

// Authorize is the single role predicate consulted by every transition. entity may be a
// Checklist, Listing or Dispute, by value or pointer. Identity is compared by user id only.
func Authorize(actor models.Actor, entity interface{}, action Action) Decision {
	if actor.Anonymous() {
		return Decision{Role: RoleNone, Reason: "authentication required"}
	}
	switch e := entity.(type) {
	case models.Checklist:
		return authorizeChecklist(actor, e, action)
	case *models.Checklist:
		if e == nil {
			break
		}
		return authorizeChecklist(actor, *e, action)
	case models.Listing:
		return authorizeListing(actor, e, action)
	case *models.Listing:
		if e == nil {
			break
		}
		return authorizeListing(actor, *e, action)
	case models.Dispute:
		return authorizeDispute(actor, e, action)
	case *models.Dispute:
		if e == nil {
			break
		}
		return authorizeDispute(actor, *e, action)
	}
	return Decision{Role: RoleNone, Reason: fmt.Sprintf("unsupported entity %T", entity)}
}

// Require returns the NOT_AUTHORIZED guard error when actor may not perform action on entity.
func Require(actor models.Actor, entity interface{}, action Action) error {
	d := Authorize(actor, entity, action)
	if d.Allowed {
		return nil
	}
	return deny(d, action, stateOf(entity))
}

func stateOf(entity interface{}) string {
	switch e := entity.(type) {
	case models.Checklist:
		return string(e.AgreementStatus)
	case *models.Checklist:
		if e != nil {
			return string(e.AgreementStatus)
		}
	case models.Dispute:
		return string(e.Status)
	case *models.Dispute:
		if e != nil {
			return string(e.Status)
		}
	}
	return ""
}

// ChecklistRoleOf resolves the actor's relationship to c.
func ChecklistRoleOf(actor models.Actor, c models.Checklist) Role {
	switch {
	case actor.Anonymous():
		return RoleNone
	case actor.ID == c.OwnerID:
		return RoleSeller
	case c.IsBuyer(actor.ID):
		return RoleBuyer
	case c.AgreementStatus == models.AgreementPendingBuyer && c.BuyerID == nil:
		return RoleInvitee
	}
	return RoleNone
}

func authorizeChecklist(actor models.Actor, c models.Checklist, action Action) Decision {
	role := ChecklistRoleOf(actor, c)
	allow := func(roles ...Role) Decision {
		for _, r := range roles {
			if r == role {
				return Decision{Allowed: true, Role: role}
			}
		}
		return Decision{Role: role, Reason: fmt.Sprintf("%s requires role %v, actor is %s", action, roles, role)}
	}

	switch action {
	case ActionView:
		return allow(RoleSeller, RoleBuyer, RoleInvitee)
	case ActionEdit, ActionSubmit, ActionSignSeller, ActionDelete, ActionPublish:
		return allow(RoleSeller)
	case ActionAccept:
		// Any signed-in user may try; state and self-dealing are separate guards.
		return Decision{Allowed: true, Role: role}
	case ActionSignBuyer, ActionFileDispute:
		return allow(RoleBuyer)
	case ActionCancel, ActionExport:
		return allow(RoleSeller, RoleBuyer)
	}
	return Decision{Role: role, Reason: fmt.Sprintf("%s is not a checklist action", action)}
}

func authorizeListing(actor models.Actor, l models.Listing, action Action) Decision {
	role := RoleNone
	if actor.ID == l.SellerID {
		role = RoleSeller
	}
	switch action {
	case ActionView:
		return Decision{Allowed: true, Role: role}
	case ActionMaintain, ActionUnpublish:
		if role == RoleSeller {
			return Decision{Allowed: true, Role: role}
		}
		return Decision{Role: role, Reason: fmt.Sprintf("%s requires the listing owner", action)}
	}
	return Decision{Role: role, Reason: fmt.Sprintf("%s is not a listing action", action)}
}

func authorizeDispute(actor models.Actor, d models.Dispute, action Action) Decision {
	role := RoleNone
	switch {
	case actor.ID == d.SellerID:
		role = RoleSeller
	case actor.ID == d.BuyerID:
		role = RoleBuyer
	case actor.Role == models.RoleAdmin:
		role = RoleArbitrator
	}

	switch action {
	case ActionView:
		if role != RoleNone {
			return Decision{Allowed: true, Role: role}
		}
	case ActionPostMessage:
		if role == RoleSeller || role == RoleBuyer {
			return Decision{Allowed: true, Role: role}
		}
	case ActionSubmitOffer:
		if role == RoleSeller {
			return Decision{Allowed: true, Role: role}
		}
	case ActionResolve:
		if role == RoleBuyer {
			return Decision{Allowed: true, Role: role}
		}
	default:
		return Decision{Role: role, Reason: fmt.Sprintf("%s is not a dispute action", action)}
	}
	return Decision{Role: role, Reason: fmt.Sprintf("%s is not permitted for role %s", action, role)}
}

// deny converts a refused decision into the NOT_AUTHORIZED error.
func deny(d Decision, action Action, state string) error {
	return appErrors.WithDetails(appErrors.ErrActorUnauthorized,
		fmt.Sprintf("not authorized to %s: %s", humanise(action), d.Reason),
		map[string]interface{}{
			"guard":         "actor",
			"action":        string(action),
			"role":          string(d.Role),
			"current_state": state,
		})
}

// guardError clones base with a message and the standard detail keys.
func guardError(base *appErrors.Error, guard, state, message string, extra map[string]interface{}) error {
	details := map[string]interface{}{
		"guard":         guard,
		"current_state": state,
	}
	for k, v := range extra {
		details[k] = v
	}
	return appErrors.WithDetails(base, message, details)
}

func humanise(a Action) string {
	switch a {
	case ActionSignSeller:
		return "sign as seller"
	case ActionSignBuyer:
		return "sign as buyer"
	case ActionFileDispute:
		return "file a dispute"
	case ActionSubmitOffer:
		return "submit an offer"
	case ActionPostMessage:
		return "post a message"
	}
	return string(a)
}
