package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brewtune/brewtune/internal/auth"
	"github.com/brewtune/brewtune/internal/azblob"
	"github.com/brewtune/brewtune/internal/brew"
	"github.com/brewtune/brewtune/internal/graph"
	"github.com/brewtune/brewtune/internal/history"
	"github.com/brewtune/brewtune/internal/intune"
	"github.com/brewtune/brewtune/internal/logging"
	"github.com/brewtune/brewtune/internal/pkgmeta"
	"github.com/brewtune/brewtune/internal/uploader"
)

type uploadOptions struct {
	file       string
	cask       string
	plist      string
	name       string
	desc       string
	publisher  string
	bundleID   string
	appVersion string
	minOS      string

	preScript  string
	postScript string

	requiredGroups  []string
	availableGroups []string

	yes bool
}

func newUploadCmd(root *rootOptions) *cobra.Command {
	opts := &uploadOptions{}

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Encrypt a pkg and publish it to Intune",
		Long: `Encrypt a signed macOS installer package and publish it to Microsoft
Intune as a Line-of-Business app, assigning it to the given Entra groups.

Group flags accept Entra group ids or the aliases "all-users" and
"all-devices". Missing metadata can be prefilled from a Homebrew cask
(--cask) or from a component Info.plist (--plist).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "path to the signed .pkg file (required)")
	cmd.Flags().StringVar(&opts.cask, "cask", "", "Homebrew cask token to prefill metadata from")
	cmd.Flags().StringVar(&opts.plist, "plist", "", "Info.plist to read bundle id/version from")
	cmd.Flags().StringVar(&opts.name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.desc, "description", "", "app description")
	cmd.Flags().StringVar(&opts.publisher, "publisher", "", "publisher name")
	cmd.Flags().StringVar(&opts.bundleID, "bundle-id", "", "primary bundle identifier")
	cmd.Flags().StringVar(&opts.appVersion, "app-version", "", "app version")
	cmd.Flags().StringVar(&opts.minOS, "min-os", "v13_0", "minimum macOS version key (e.g. v13_0)")
	cmd.Flags().StringVar(&opts.preScript, "pre-script", "", "path to a pre-install shell script")
	cmd.Flags().StringVar(&opts.postScript, "post-script", "", "path to a post-install shell script")
	cmd.Flags().StringSliceVar(&opts.requiredGroups, "required-group", nil, "group to assign with required intent (repeatable)")
	cmd.Flags().StringSliceVar(&opts.availableGroups, "available-group", nil, "group to assign with available intent (repeatable)")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "answer yes to confirmation prompts")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runUpload(cmd *cobra.Command, root *rootOptions, opts *uploadOptions) error {
	cfg, log, err := root.load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if _, err := os.Stat(opts.file); err != nil {
		return fmt.Errorf("package file: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := prefill(ctx, log, cfg.RequestTimeout, opts); err != nil {
		return err
	}
	appCfg, err := buildAppConfig(opts)
	if err != nil {
		return err
	}

	if cfg.TenantID == "" || cfg.ClientID == "" {
		return errors.New("tenant_id and client_id must be configured")
	}
	if cfg.ClientSecret == "" {
		secret, err := GetSecret(out, "Enter client secret")
		if err != nil {
			return err
		}
		cfg.ClientSecret = string(secret)
	}

	tokens, err := auth.NewServicePrincipal(cfg.TenantID, cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		return err
	}

	uploadOpts := []uploader.Option{
		uploader.WithObserver(NewProgressPrinter(out)),
	}
	repo, err := history.Open(ctx, cfg.HistoryDBPath)
	if err != nil {
		log.Warn(ctx, "history db unavailable, results will not be recorded", "err", err)
	} else {
		defer repo.Close()
		uploadOpts = append(uploadOpts, uploader.WithRecorder(repo))
	}

	up := uploader.New(
		graph.New(cfg.GraphBaseURL, tokens, log),
		azblob.NewUploader(log),
		log,
		uploadOpts...,
	)

	runCtx, cancel := context.WithTimeout(ctx, cfg.TransferTimeout)
	defer cancel()

	result, err := up.Upload(runCtx, opts.file, appCfg)
	if err != nil {
		var dup *intune.DuplicateAppVersionError
		var upd *intune.VersionUpdateRequiredError
		switch {
		case errors.As(err, &dup):
			fmt.Fprintf(out, "%s %s is already published (app %s); nothing to do.\n",
				dup.DisplayName, dup.Version, dup.AppID)
			return nil
		case errors.As(err, &upd):
			fmt.Fprintf(out, "%s is published as %s; this package is %s.\n",
				upd.DisplayName, upd.OldVersion, upd.NewVersion)
			if !opts.yes {
				ok, err := Confirm(bufio.NewReader(cmd.InOrStdin()), "Upload as a new version of the existing app?", out)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "Aborted.")
					return nil
				}
			}
			result, err = up.ConfirmAndProceed(runCtx, opts.file, appCfg, upd.AppID)
			if err != nil {
				return err
			}
		default:
			return err
		}
	}

	printResult(out, result)
	return nil
}

// prefill fills metadata the operator did not supply from the Homebrew cask
// and the component plist, in that order.
func prefill(ctx context.Context, log logging.Logger, timeout time.Duration, opts *uploadOptions) error {
	if opts.cask != "" {
		lookupCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		cask, err := brew.NewClient(log).Lookup(lookupCtx, opts.cask)
		if err != nil {
			return fmt.Errorf("cask lookup: %w", err)
		}
		if opts.name == "" {
			opts.name = cask.DisplayName()
		}
		if opts.desc == "" {
			opts.desc = cask.Desc
		}
		if opts.appVersion == "" {
			opts.appVersion = cask.Version
		}
		if opts.publisher == "" {
			opts.publisher = cask.Homepage
		}
	}
	if opts.plist != "" && (opts.bundleID == "" || opts.appVersion == "") {
		info, err := pkgmeta.ParseFile(opts.plist)
		if err != nil {
			return fmt.Errorf("plist: %w", err)
		}
		if opts.bundleID == "" {
			opts.bundleID = info.BundleID
		}
		if opts.appVersion == "" {
			opts.appVersion = info.Version
		}
	}
	return nil
}

func buildAppConfig(opts *uploadOptions) (*intune.AppConfig, error) {
	if opts.bundleID == "" {
		return nil, errors.New("bundle id is required (use --bundle-id or --plist)")
	}
	if opts.appVersion == "" {
		return nil, errors.New("app version is required (use --app-version, --cask or --plist)")
	}
	name := opts.name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(opts.file), filepath.Ext(opts.file))
	}

	pre, err := readScript(opts.preScript)
	if err != nil {
		return nil, err
	}
	post, err := readScript(opts.postScript)
	if err != nil {
		return nil, err
	}

	return &intune.AppConfig{
		DisplayName:       name,
		Description:       opts.desc,
		Publisher:         opts.publisher,
		BundleID:          opts.bundleID,
		Version:           opts.appVersion,
		MinimumOS:         opts.minOS,
		PreInstallScript:  pre,
		PostInstallScript: post,
		RequiredGroups:    parseGroups(opts.requiredGroups, intune.IntentRequired),
		AvailableGroups:   parseGroups(opts.availableGroups, intune.IntentAvailable),
	}, nil
}

func readScript(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("script %s: %w", path, err)
	}
	return string(data), nil
}

// parseGroups maps flag values to assignments, resolving the built-in
// "all-users" and "all-devices" aliases to their well-known ids.
func parseGroups(values []string, intent intune.AssignmentIntent) []intune.GroupAssignment {
	out := make([]intune.GroupAssignment, 0, len(values))
	for _, v := range values {
		id := strings.TrimSpace(v)
		switch strings.ToLower(id) {
		case "all-users":
			id = intune.AllUsersGroupID
		case "all-devices":
			id = intune.AllDevicesGroupID
		}
		if id == "" {
			continue
		}
		out = append(out, intune.GroupAssignment{GroupID: id, Intent: intent})
	}
	return out
}

func printResult(w io.Writer, res *intune.UploadResult) {
	fmt.Fprintf(w, "\nPublished %s %s (app %s)\n", res.AppName, res.AppVersion, res.AppID)
	fmt.Fprintf(w, "  bundle id: %s\n", res.BundleID)
	fmt.Fprintf(w, "  assignments: %d required, %d available\n",
		res.RequiredGroupsAssigned, res.AvailableGroupsAssigned)
}
