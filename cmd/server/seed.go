package main

import (
	"context"
	"log/slog"

	"lifetag/internal/seed"
)

func loadSeed(ctx context.Context, path string, profiles seed.ProfileWriter, tags seed.TagWriter, log *slog.Logger) error {
	file, err := seed.LoadFile(path)
	if err != nil {
		return err
	}
	res, err := seed.Apply(ctx, file, profiles, tags)
	if err != nil {
		return err
	}
	for key, profileID := range res.Profiles {
		log.Info("seeded profile", "key", key, "profile_id", profileID)
	}
	log.Info("seed loaded", "path", path, "profiles", len(res.Profiles), "tags", res.Tags)
	return nil
}
