package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
)

// catalogSeed is the SEED_FILE layout used to populate the in-memory store.
type catalogSeed struct {
	Stylists []model.Stylist            `json:"stylists"`
	Services []model.Service            `json:"services"`
	Windows  []model.AvailabilityWindow `json:"windows"`
}

func loadSeed(path string, store *storage.MemoryStore) (catalogSeed, error) {
	var seed catalogSeed
	raw, err := os.ReadFile(path)
	if err != nil {
		return seed, err
	}
	if err := json.Unmarshal(raw, &seed); err != nil {
		return seed, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, st := range seed.Stylists {
		if st.ID == "" {
			return seed, fmt.Errorf("parse %s: stylist without id", path)
		}
		store.PutStylist(st)
	}
	for _, svc := range seed.Services {
		if svc.ID == "" || svc.DurationMinutes <= 0 {
			return seed, fmt.Errorf("parse %s: service %q needs an id and a positive duration", path, svc.ID)
		}
		store.PutService(svc)
	}
	for _, w := range seed.Windows {
		if !w.Interval().Valid() {
			return seed, fmt.Errorf("parse %s: window %q has an empty interval", path, w.ID)
		}
		store.PutWindow(w)
	}
	return seed, nil
}
