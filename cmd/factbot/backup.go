package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"factbot/internal/config"
	"factbot/internal/history"
)

const (
	backupConfigName  = "config.json"
	backupHistoryName = "history.db"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the config file and run history",
		Long: `Creates a compressed .tar.gz archive with the config file and a consistent
snapshot of the history database. The backup is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfgPath := config.ExpandPath(resolveConfigPath())

			if outputPath == "" {
				dir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				outputPath = filepath.Join(dir, fmt.Sprintf("factbot-backup-%s.tar.gz", time.Now().Format("20060102-150405")))
			}

			entries := map[string]string{}
			if _, err := os.Stat(cfgPath); err == nil {
				entries[backupConfigName] = cfgPath
			}

			if cfg.History.Enabled || cfg.Subscriptions.Enabled {
				if _, err := os.Stat(cfg.History.DBPath); err == nil {
					tmp, err := os.MkdirTemp("", "factbot-backup-")
					if err != nil {
						return err
					}
					defer os.RemoveAll(tmp)

					snap := filepath.Join(tmp, backupHistoryName)
					if err := snapshotHistory(cfg.History.DBPath, snap); err != nil {
						return err
					}
					entries[backupHistoryName] = snap
				}
			}

			if len(entries) == 0 {
				return fmt.Errorf("nothing to back up (config: %s, history: %s)", cfgPath, cfg.History.DBPath)
			}
			if err := createTarGz(outputPath, entries); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			for name, src := range entries {
				size := int64(0)
				if info, err := os.Stat(src); err == nil {
					size = info.Size()
				}
				fmt.Printf("  - %s (%s)\n", name, humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: ~/.factbot/backups/factbot-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore the config file and run history from a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			dbPath := config.Defaults().History.DBPath
			if cfg, err := loadConfig(); err == nil {
				dbPath = cfg.History.DBPath
			}
			dbPath = config.ExpandPath(dbPath)

			if !force {
				for _, p := range []string{cfgPath, dbPath} {
					if _, err := os.Stat(p); err == nil {
						fmt.Printf("WARNING: %s exists and would be overwritten.\n", p)
						return errors.New("restore aborted (use --force to proceed)")
					}
				}
			}

			targets := map[string]string{
				backupConfigName:  cfgPath,
				backupHistoryName: dbPath,
			}
			restored, err := extractTarGz(args[0], targets)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			// Stale WAL files would be replayed over the restored database.
			for _, suffix := range []string{"-wal", "-shm"} {
				os.Remove(dbPath + suffix)
			}

			fmt.Printf("Restore completed from: %s\n", args[0])
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files without warning")
	return cmd
}

func snapshotHistory(dbPath, dst string) error {
	store, err := history.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return store.Snapshot(ctx, dst)
}

// createTarGz writes each source file under its archive name.
func createTarGz(outputPath string, entries map[string]string) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	for name, src := range entries {
		if err := addFileToTar(tarWriter, name, src); err != nil {
			return fmt.Errorf("add %s: %w", name, err)
		}
	}
	return nil
}

func addFileToTar(tw *tar.Writer, name, src string) error {
	file, err := os.Open(src)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz restores the archive members named in targets; other members
// are skipped.
func extractTarGz(archivePath string, targets map[string]string) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var restored []string
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		target, ok := targets[filepath.Base(header.Name)]
		if !ok {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", target, err)
		}
		if _, err := io.Copy(out, tarReader); err != nil {
			out.Close()
			return nil, fmt.Errorf("extract %s: %w", target, err)
		}
		out.Close()
		restored = append(restored, target)
	}
	return restored, nil
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
