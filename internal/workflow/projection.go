package workflow

import (
	"errors"
	"time"

	"github.com/noah-isme/qc-validator-api/internal/models"
)

// ChecklistView is what clients render: the snapshot plus every derived value, computed for one
// viewer. Clients never derive score, result or available actions themselves.
type ChecklistView struct {
	models.Checklist
	QCResult           QCResult `json:"qc_result"`
	EffectiveThreshold int      `json:"effective_threshold"`
	ViewerRole         Role     `json:"viewer_role"`
	CanPublish         bool     `json:"can_publish"`
	Locked             bool     `json:"locked"`
	DocumentReady      bool     `json:"document_ready"`
	Actions            []Action `json:"actions"`
}

// ListingView adds staleness to a listing.
type ListingView struct {
	models.Listing
	Stale   bool      `json:"stale"`
	StaleAt time.Time `json:"stale_at"`
}

// DisputeView adds terminality and the viewer's available actions to a dispute.
type DisputeView struct {
	models.Dispute
	Terminal   bool     `json:"terminal"`
	ViewerRole Role     `json:"viewer_role"`
	Actions    []Action `json:"actions"`
}

// ProjectChecklist derives the view of c for viewer. The input is never modified.
func ProjectChecklist(c models.Checklist, viewer models.Actor) ChecklistView {
	snapshot := c.Clone()
	score, threshold, result := QCOf(snapshot)
	snapshot.Score = score

	view := ChecklistView{
		Checklist:          snapshot,
		QCResult:           result,
		EffectiveThreshold: threshold,
		ViewerRole:         ChecklistRoleOf(viewer, snapshot),
		CanPublish:         score == 100 && viewer.ID == snapshot.OwnerID,
		Locked:             result == QCFail,
		DocumentReady:      snapshot.DocumentPath != nil,
		Actions:            []Action{},
	}

	probe := time.Time{}
	candidates := []struct {
		action Action
		try    func() error
	}{
		{ActionEdit, func() error { return requireEditable(snapshot, viewer, "edit") }},
		{ActionSubmit, func() error { _, err := Submit(snapshot, viewer, probe); return err }},
		{ActionAccept, func() error { _, err := AcceptInvite(snapshot, viewer, probe); return err }},
		{ActionSignSeller, func() error { _, err := SignAsSeller(snapshot, viewer, probe); return err }},
		{ActionSignBuyer, func() error { _, err := SignAsBuyer(snapshot, viewer, probe); return err }},
		{ActionCancel, func() error { _, err := Cancel(snapshot, viewer, probe); return err }},
		{ActionDelete, func() error { return CanDelete(snapshot, viewer) }},
		{ActionPublish, func() error {
			if !view.CanPublish {
				return errNotAvailable
			}
			return nil
		}},
		{ActionFileDispute, func() error {
			if snapshot.AgreementStatus != models.AgreementCompleted || !Authorize(viewer, snapshot, ActionFileDispute).Allowed {
				return errNotAvailable
			}
			return nil
		}},
	}
	for _, candidate := range candidates {
		if candidate.try() == nil {
			view.Actions = append(view.Actions, candidate.action)
		}
	}
	return view
}

// ProjectListing derives staleness for l at now.
func ProjectListing(l models.Listing, now time.Time) ListingView {
	return ListingView{Listing: l, Stale: IsStale(l, now), StaleAt: StaleAt(l)}
}

// ProjectDispute derives the view of d for viewer.
func ProjectDispute(d models.Dispute, viewer models.Actor) DisputeView {
	snapshot := d.Clone()
	view := DisputeView{
		Dispute:    snapshot,
		Terminal:   snapshot.Status.Terminal(),
		ViewerRole: Authorize(viewer, snapshot, ActionView).Role,
		Actions:    []Action{},
	}
	probe := time.Time{}
	if _, err := SubmitOffer(snapshot, viewer, "probe", probe); err == nil {
		view.Actions = append(view.Actions, ActionSubmitOffer)
	}
	if _, err := Resolve(snapshot, viewer, true, probe); err == nil {
		view.Actions = append(view.Actions, ActionResolve)
	}
	if _, err := PostMessage(snapshot, viewer, "probe", probe); err == nil {
		view.Actions = append(view.Actions, ActionPostMessage)
	}
	return view
}

var errNotAvailable = errors.New("action not available")
