package workload

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

const gocryptfsTimeout = 30 * time.Second

// MountEncrypted initializes (if needed) and mounts a gocryptfs volume
// rooted at cipherDir onto mountPoint, using rootKey as the gocryptfs
// master key. rootKey is piped to gocryptfs's stdin, matching the
// teacher's external-process idiom in pkg/network/hostports.go's iptables
// wrapper - it is never passed as an argv or env value, so it never shows
// up in a process listing or core dump of this process's children.
func MountEncrypted(ctx context.Context, rootKey []byte, cipherDir, mountPoint string) error {
	if err := os.MkdirAll(cipherDir, 0700); err != nil {
		return fmt.Errorf("create cipher dir %s: %w", cipherDir, err)
	}
	if err := os.MkdirAll(mountPoint, 0700); err != nil {
		return fmt.Errorf("create mount point %s: %w", mountPoint, err)
	}

	if !gocryptfsInitialized(cipherDir) {
		if err := runGocryptfs(ctx, rootKey, "-init", "-masterkey", "stdin", cipherDir); err != nil {
			return fmt.Errorf("init encrypted volume at %s: %w", cipherDir, err)
		}
	}

	if err := runGocryptfs(ctx, rootKey, "-masterkey", "stdin", cipherDir, mountPoint); err != nil {
		return fmt.Errorf("mount encrypted volume %s at %s: %w", cipherDir, mountPoint, err)
	}
	return nil
}

// UnmountEncrypted unmounts a previously mounted gocryptfs volume, used to
// roll back a failed workload launch (spec.md §4.1's "side effect is
// rolled back ... before returning the error").
func UnmountEncrypted(ctx context.Context, mountPoint string) error {
	cmd := exec.CommandContext(ctx, "fusermount", "-u", mountPoint)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("unmount %s: %w: %s", mountPoint, err, stderr.String())
	}
	return nil
}

func gocryptfsInitialized(cipherDir string) bool {
	_, err := os.Stat(cipherDir + "/gocryptfs.conf")
	return err == nil
}

func runGocryptfs(ctx context.Context, rootKey []byte, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, gocryptfsTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "gocryptfs", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open gocryptfs stdin: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start gocryptfs: %w", err)
	}

	if _, err := fmt.Fprintf(stdin, "%x\n", rootKey); err != nil {
		stdin.Close()
		_ = cmd.Wait()
		return fmt.Errorf("write gocryptfs master key: %w", err)
	}
	stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("gocryptfs %v: %w: %s", args, err, stderr.String())
	}
	return nil
}
