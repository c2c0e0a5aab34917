package matcher

import "github.com/example/chairmatch/internal/models"

// FilterFree drops every chair that currently has an unfinished ride,
// preserving the input order of the rest. busyIDs comes from the store's
// aggregate query (one scan for the whole fleet rather than one query per
// chair), so the free set reflects the authoritative ride-status trail, not
// any cached view.
func FilterFree(active []models.Chair, busyIDs []string) []models.Chair {
	if len(active) == 0 {
		return nil
	}
	busy := make(map[string]struct{}, len(busyIDs))
	for _, id := range busyIDs {
		busy[id] = struct{}{}
	}

	free := make([]models.Chair, 0, len(active))
	for _, c := range active {
		if _, ok := busy[c.ID]; ok {
			continue
		}
		free = append(free, c)
	}
	return free
}
