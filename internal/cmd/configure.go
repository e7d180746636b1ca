package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"wpsnapshots/internal/config"
	"wpsnapshots/internal/prompt"
	"wpsnapshots/internal/storage"
)

var configureCmd = &cobra.Command{
	Use:   "configure <repository>",
	Short: "Configure credentials for a repository",
	Long: `Store the access keys and region of a repository along with the name and
email recorded as the author of new snapshots. Missing values are prompted
for. The connection is tested before anything is saved.

Examples:
  wpsnapshots configure acme --region us-west-1
  wpsnapshots configure local --endpoint localhost:9000 --access-key-id minio --secret-access-key minio123

MinIO has no DynamoDB API: with --endpoint alone, snapshot records stay in
AWS DynamoDB in --region. Point --metadata-endpoint at LocalStack or
DynamoDB Local to keep everything local:
  wpsnapshots configure local --endpoint localhost:4566 --metadata-endpoint localhost:4566 --use-ssl=false`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)

	configureCmd.Flags().String("region", "", "AWS region of the repository")
	configureCmd.Flags().String("access-key-id", "", "access key id")
	configureCmd.Flags().String("secret-access-key", "", "secret access key")
	configureCmd.Flags().String("endpoint", "", "S3-compatible endpoint (host:port) instead of AWS")
	configureCmd.Flags().String("metadata-endpoint", "", "DynamoDB-compatible endpoint (host:port) for snapshot records (default: AWS DynamoDB in --region)")
	configureCmd.Flags().Bool("use-ssl", true, "use TLS for the S3-compatible and metadata endpoints")
	configureCmd.Flags().String("user-name", "", "your name, recorded on snapshots you create")
	configureCmd.Flags().String("user-email", "", "your email, recorded on snapshots you create")
	configureCmd.Flags().Bool("skip-test", false, "save without testing the connection")
}

func runConfigure(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	name := strings.ToLower(strings.TrimSpace(args[0]))
	if !config.ValidRepositoryName(name) {
		return fmt.Errorf("invalid repository name %q: use lowercase letters, numbers and hyphens", name)
	}

	ws, err := loadWorkspace()
	if err != nil {
		return err
	}
	p := newPrompter()

	rc, exists := ws.cfg.Repositories[name]
	rc.Repository = name
	rc.Endpoint = first(setting(cmd, "endpoint"), rc.Endpoint)
	rc.MetadataEndpoint = first(setting(cmd, "metadata-endpoint"), rc.MetadataEndpoint)
	if cmd.Flags().Changed("use-ssl") || !exists {
		rc.UseSSL = mustGetBoolFlag(cmd, "use-ssl")
	}

	if rc.Region, err = ask(p, cmd, "region", "Region", first(rc.Region, "us-west-1")); err != nil {
		return err
	}
	if rc.AccessKeyID, err = ask(p, cmd, "access-key-id", "Access key ID", rc.AccessKeyID); err != nil {
		return err
	}
	if v := setting(cmd, "secret-access-key"); v != "" {
		rc.SecretAccessKey = v
	} else if rc.SecretAccessKey == "" {
		if rc.SecretAccessKey, err = p.Password("Secret access key"); err != nil {
			return err
		}
	}
	if ws.cfg.Name, err = ask(p, cmd, "user-name", "Your name", ws.cfg.Name); err != nil {
		return err
	}
	if ws.cfg.Email, err = ask(p, cmd, "user-email", "Your email", ws.cfg.Email); err != nil {
		return err
	}

	if err := rc.Validate(); err != nil {
		return err
	}
	if err := ws.cfg.ValidateIdentity(); err != nil {
		return err
	}

	if !mustGetBoolFlag(cmd, "skip-test") {
		fmt.Printf("Testing connection to %s...\n", rc.BucketName())
		store, err := storage.New(ctx, rc)
		if err != nil {
			return err
		}
		if err := store.Test(ctx); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		fmt.Printf("✓ Connection OK\n")
	}

	ws.cfg.SetRepository(rc)
	if err := ws.cfg.Save(ws.root); err != nil {
		return err
	}
	fmt.Printf("✓ Repository %s saved to %s\n", name, ws.root)
	return nil
}

// ask returns the flag or environment value, or prompts with def.
func ask(p prompt.Prompter, cmd *cobra.Command, flag, message, def string) (string, error) {
	if v := setting(cmd, flag); v != "" {
		return v, nil
	}
	v, err := p.Input(message, def)
	return strings.TrimSpace(v), err
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
