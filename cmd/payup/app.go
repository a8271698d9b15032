package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"payup/internal/app"
	"payup/internal/config"
	"payup/internal/domain"
	"payup/internal/service"
)

// templatesFile is the seed format accepted by "app create --templates".
//
//	templates:
//	  payment.succeeded: |
//	    {"id": {{ json .ID }}, "amount": {{ amount .Payup.Amount .Payup.Currency | json }}}
type templatesFile struct {
	Templates map[string]string `yaml:"templates"`
}

func appCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Manage merchant apps",
	}
	cmd.AddCommand(appCreateCmd())
	return cmd
}

func appCreateCmd() *cobra.Command {
	var (
		name          string
		webhookURL    string
		templatesPath string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an app and print its credentials",
		Long: `Register a merchant app and print its API key and webhook secret.
The credentials are shown once and cannot be retrieved later.

Examples:
  payup app create --name "Shop" --webhook-url https://shop.example/webhooks
  payup app create --name "Shop" --webhook-url https://shop.example/webhooks --templates templates.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var seed templatesFile
			if templatesPath != "" {
				data, err := os.ReadFile(templatesPath)
				if err != nil {
					return fmt.Errorf("read templates: %w", err)
				}
				if err := yaml.Unmarshal(data, &seed); err != nil {
					return fmt.Errorf("parse templates: %w", err)
				}
			}

			cfg := config.Load()
			logger := app.NewLogger(cfg.Log)

			c, err := connect(cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx := context.Background()
			resp, err := c.AppService.CreateApp(ctx, service.CreateAppRequest{Name: name, WebhookURL: webhookURL})
			if err != nil {
				return err
			}

			eventTypes := make([]string, 0, len(seed.Templates))
			for eventType := range seed.Templates {
				eventTypes = append(eventTypes, eventType)
			}
			sort.Strings(eventTypes)

			for _, eventType := range eventTypes {
				if _, err := c.AppService.UpsertWebhookTemplate(ctx, resp.App.ID, domain.EventType(eventType), seed.Templates[eventType]); err != nil {
					return fmt.Errorf("template %s: %w", eventType, err)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "app_id:         %s\n", resp.App.ID)
			fmt.Fprintf(out, "api_key:        %s\n", resp.APIKey)
			fmt.Fprintf(out, "webhook_secret: %s\n", resp.WebhookSecret)
			fmt.Fprintf(out, "templates:      %d\n", len(eventTypes))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "app name")
	cmd.Flags().StringVar(&webhookURL, "webhook-url", "", "merchant webhook endpoint")
	cmd.Flags().StringVar(&templatesPath, "templates", "", "YAML file with webhook templates per event type")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("webhook-url")

	return cmd
}
