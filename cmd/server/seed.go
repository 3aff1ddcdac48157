package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/khoahotran/profile-service/adapters/event"
	"github.com/khoahotran/profile-service/adapters/persistence"
	profileUC "github.com/khoahotran/profile-service/internal/application/usecase/profile"
	"github.com/khoahotran/profile-service/internal/config"
	"github.com/khoahotran/profile-service/pkg/logger"
)

func newSeedCmd(configPath *string) *cobra.Command {
	var (
		email      string
		image      string
		about      string
		experience string
		education  string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Merge a sample profile into the configured store",
		Long: `Applies one merge-update for --email (or SEED_EMAIL), creating the profile when absent.
--experience and --education take a JSON value and are prepended like any merge.

Examples:
  profile-service seed --email alice@x.com --about "Backend engineer"
  profile-service seed --email alice@x.com --experience '{"title":"Dev","org":"Acme"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				email = os.Getenv("SEED_EMAIL")
			}
			if email == "" {
				return errors.New("--email or SEED_EMAIL is required")
			}

			body := map[string]any{"image": image, "aboutData": about}
			for key, raw := range map[string]string{"experienceData": experience, "educationInfo": education} {
				if raw == "" {
					continue
				}
				var v any
				if err := json.Unmarshal([]byte(raw), &v); err != nil {
					return fmt.Errorf("--%s is not valid JSON: %w", key, err)
				}
				body[key] = v
			}

			return runSeed(cmd.Context(), *configPath, email, body)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "profile email")
	cmd.Flags().StringVar(&image, "image", "", "profile picture reference")
	cmd.Flags().StringVar(&about, "about", "", "about text")
	cmd.Flags().StringVar(&experience, "experience", "", "experience entry as JSON")
	cmd.Flags().StringVar(&education, "education", "", "education entry as JSON")

	return cmd
}

func runSeed(ctx context.Context, configPath, email string, body map[string]any) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}
	appLogger := logger.NewZapLogger(cfg.App.Env)
	defer appLogger.Sync()

	repo, err := persistence.NewProfileRepository(ctx, cfg, appLogger)
	if err != nil {
		return fmt.Errorf("cannot connect profile store: %w", err)
	}
	defer repo.Close(context.Background())

	// The process exits right after the write, so events are not published.
	uc := profileUC.NewProfileUseCase(repo, event.NoopPublisher{}, appLogger)
	out, err := uc.ExecuteMergeUpdate(ctx, profileUC.MergeUpdateInput{Email: email, Body: body})
	uc.Wait()
	if err != nil {
		return fmt.Errorf("cannot seed profile: %w", err)
	}

	fmt.Printf("seeded profile '%s', updated fields %v\n", email, out.UpdatedFields)
	return nil
}
