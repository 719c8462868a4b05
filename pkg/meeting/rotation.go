package meeting

import (
	"sort"

	"github.com/agentmesh/coordinator/pkg/models"
	"github.com/google/uuid"
)

// attending returns the ATTENDING participants of a meeting sorted by
// join_order, the population round-robin advancement selects over
// (spec.md §4.7 speak step 4, Glossary "Round-robin advancement").
func attending(participants []models.MeetingParticipant) []models.MeetingParticipant {
	out := make([]models.MeetingParticipant, 0, len(participants))
	for _, p := range participants {
		if p.Status == models.ParticipantAttending {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinOrder < out[j].JoinOrder })
	return out
}

// nextSpeaker selects the ATTENDING participant with the smallest
// join_order strictly greater than currentAgentID's, wrapping to the
// minimum if none (Glossary "Round-robin advancement"). Returns nil if no
// ATTENDING participant remains.
func nextSpeaker(participants []models.MeetingParticipant, currentAgentID uuid.UUID) *uuid.UUID {
	active := attending(participants)
	if len(active) == 0 {
		return nil
	}

	currentIdx := -1
	for i, p := range active {
		if p.AgentID == currentAgentID {
			currentIdx = i
			break
		}
	}
	if currentIdx == -1 {
		// Current speaker already left or isn't ATTENDING — start from the
		// first remaining ATTENDING participant (spec.md §4.7 leave_meeting).
		id := active[0].AgentID
		return &id
	}

	nextIdx := (currentIdx + 1) % len(active)
	id := active[nextIdx].AgentID
	return &id
}

// firstSpeaker picks the ATTENDING participant with minimum join_order,
// used by start_meeting (spec.md §4.7 step "pick the first speaker").
func firstSpeaker(participants []models.MeetingParticipant) *uuid.UUID {
	active := attending(participants)
	if len(active) == 0 {
		return nil
	}
	id := active[0].AgentID
	return &id
}
