// Package main provides the trackvault CLI, a thin host shell over the
// versioning engine.
package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/trackvault/trackvault/internal/config"
	"github.com/trackvault/trackvault/internal/detect"
	"github.com/trackvault/trackvault/internal/fs"
	"github.com/trackvault/trackvault/internal/repo"
	"github.com/trackvault/trackvault/internal/snapshot"
	"github.com/trackvault/trackvault/internal/store/object"
	"github.com/trackvault/trackvault/internal/util"
)

var (
	flagRoot       string
	flagHash       string
	flagCompress   string
	flagMessage    string
	flagAuthor     string
	flagForce      bool
	flagAllowEmpty bool
)

var rootCmd = &cobra.Command{
	Use:   "trackvault",
	Short: "Content-addressable versioning for DAW project folders",
	Long: `trackvault takes snapshots of a project folder, stores each unique piece
of file content exactly once, and reconstructs any recorded state on demand.`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a repository in the project root",
	RunE:  runInit,
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Snapshot the current project state as a new version",
	RunE:  runCommit,
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List all committed versions, oldest first",
	RunE:  runLog,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what changed since the latest version",
	RunE:  runStatus,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <version> [destination]",
	Short: "Reconstruct a version's tree (in place, or into destination)",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runRestore,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-hash every stored blob and report integrity",
	RunE:  runVerify,
}

var diffCmd = &cobra.Command{
	Use:   "diff <older> <newer>",
	Short: "Show path changes between two versions",
	Args:  cobra.ExactArgs(2),
	RunE:  runDiff,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&flagRoot, "root", "C", ".", "project root directory")

	initCmd.Flags().StringVar(&flagHash, "hash", config.DefaultHash, "digest algorithm (xxh3, sha256, blake3)")
	initCmd.Flags().StringVar(&flagCompress, "compression", config.DefaultCompression, "blob compression (none, zstd)")

	commitCmd.Flags().StringVarP(&flagMessage, "message", "m", "", "version message")
	commitCmd.Flags().StringVar(&flagAuthor, "author", "", "author recorded on the version")
	commitCmd.Flags().BoolVar(&flagForce, "force", false, "rehash every file, ignoring the size/mtime fast path")
	commitCmd.Flags().BoolVar(&flagAllowEmpty, "allow-empty", false, "permit a version with no changes")

	statusCmd.Flags().BoolVar(&flagForce, "force", false, "treat every present file as changed")

	rootCmd.AddCommand(initCmd, commitCmd, logCmd, statusCmd, restoreCmd, verifyCmd, diffCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openRepo() (*repo.Repository, error) {
	return repo.Open(flagRoot, fs.NewOSFS(), false)
}

func runInit(cmd *cobra.Command, args []string) error {
	r, err := repo.Init(flagRoot, fs.NewOSFS(), repo.InitOptions{
		Hash:        flagHash,
		Compression: flagCompress,
	})
	if err != nil {
		return err
	}
	defer r.Close()
	fmt.Printf("Initialized repository at %s (hash=%s, compression=%s)\n",
		r.Config.RepoRoot, r.Config.Hash, r.Config.Compression)
	return nil
}

func runCommit(cmd *cobra.Command, args []string) error {
	if flagMessage == "" {
		return fmt.Errorf("commit message required (use -m)")
	}
	r, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()

	v, err := r.Snapshots.Commit(snapshot.Options{
		Message:    flagMessage,
		Author:     flagAuthor,
		Force:      flagForce,
		AllowEmpty: flagAllowEmpty,
	})
	if errors.Is(err, snapshot.ErrNoChanges) {
		fmt.Println("Nothing to commit (use --allow-empty to record an empty version)")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Committed version %d\n", v.ID)
	return nil
}

func runLog(cmd *cobra.Command, args []string) error {
	r, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()

	versions, err := r.History.List()
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Println("No versions yet")
		return nil
	}
	for _, v := range versions {
		fmt.Printf("v%d  %s", v.ID, v.Timestamp)
		if v.Author != "" {
			fmt.Printf("  <%s>", v.Author)
		}
		if v.Message != "" {
			fmt.Printf("  %s", v.Message)
		}
		fmt.Println()
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	r, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()

	res, err := r.Snapshots.Changes(flagForce)
	if err != nil {
		return err
	}
	if !res.HasChanges() {
		fmt.Println("Working tree matches the latest version")
		return nil
	}
	for _, d := range res.Decisions {
		switch d.Action {
		case detect.Candidate:
			fmt.Printf("  changed   %s\n", d.Path)
		case detect.Removed:
			fmt.Printf("  removed   %s\n", d.Path)
		}
	}
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q", args[0])
	}
	r, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()

	dest := r.Config.ProjectRoot
	if len(args) == 2 {
		dest = args[1]
	}
	if err := r.Restorer.Restore(id, dest); err != nil {
		return err
	}
	fmt.Printf("Restored version %d to %s\n", id, dest)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	r, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()

	checks, err := r.Objects.VerifyAll(r.Hash, util.WorkerCount())
	if err != nil {
		return err
	}
	ok, bad := 0, 0
	for c := range checks {
		if c.Status == object.OK {
			ok++
			continue
		}
		bad++
		fmt.Printf("  %s  %s\n", c.Status, c.Digest)
	}
	fmt.Printf("%d blobs ok, %d with problems\n", ok, bad)
	if bad > 0 {
		return fmt.Errorf("integrity check failed for %d blobs", bad)
	}
	return nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	a, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q", args[0])
	}
	b, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q", args[1])
	}
	r, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()

	d, err := r.DiffVersions(a, b)
	if err != nil {
		return err
	}
	for _, p := range d.Added {
		fmt.Printf("  added     %s\n", p)
	}
	for _, p := range d.Modified {
		fmt.Printf("  modified  %s\n", p)
	}
	for _, p := range d.Removed {
		fmt.Printf("  removed   %s\n", p)
	}
	if !d.HasChanges() {
		fmt.Println("No changes")
	}
	return nil
}
