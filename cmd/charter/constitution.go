package main

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidahmann/charter/internal/crypto"
	"github.com/davidahmann/charter/internal/policy"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// canonicalOf returns the canonical bytes of a JSON value or a YAML tree.
// For YAML the declared doc_hash is left out when hashView is set.
func canonicalOf(path string, raw []byte, hashView bool) ([]byte, error) {
	if !isYAML(path) {
		return crypto.Recanonicalize(raw)
	}
	tree, err := policy.ParseTree(raw)
	if err != nil {
		return nil, err
	}
	if hashView {
		return policy.CanonicalBytes(tree)
	}
	return crypto.Canonicalize(tree)
}

func newCanonCmd() *cobra.Command {
	var hashView bool
	cmd := &cobra.Command{
		Use:   "canon <file|->",
		Short: "Print the canonical JSON encoding of a JSON or YAML document",
		Args:  exactArgs(1, "<file|->"),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			canonical, err := canonicalOf(args[0], raw, hashView)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(canonical, '\n'))
			return err
		},
	}
	cmd.Flags().BoolVar(&hashView, "hash-view", false, "omit the declared doc_hash (YAML only)")
	return cmd
}

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <file|->",
		Short: "Print the sha256 digest of a document's canonical form",
		Long: `hash prints sha256:<hex> over the canonical encoding. For a YAML
constitution the digest excludes doc_hash, so it is the value stamp writes.`,
		Args: exactArgs(1, "<file|->"),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			canonical, err := canonicalOf(args[0], raw, true)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), crypto.DigestWithPrefix(canonical))
			return nil
		},
	}
}

func newStampCmd() *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "stamp <constitution.yaml>",
		Short: "Compute doc_hash and write it into the document",
		Args:  exactArgs(1, "<constitution.yaml>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			stamped, hash, err := policy.Stamp(raw)
			if err != nil {
				return err
			}
			if !write || args[0] == "-" {
				_, err = cmd.OutOrStdout().Write(stamped)
				return err
			}
			if err := os.WriteFile(args[0], stamped, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stamped %s doc_hash=%s\n", args[0], hash)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "rewrite the file in place")
	return cmd
}

func newKeygenCmd() *cobra.Command {
	var out, pubOut string
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 signing key",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return usageError{errors.New("--out is required")}
			}
			if pubOut == "" {
				pubOut = out + ".pub"
			}
			if !force {
				for _, p := range []string{out, pubOut} {
					if _, err := os.Stat(p); err == nil {
						return fmt.Errorf("%s exists; use --force to overwrite", p)
					}
				}
			}
			seed, err := crypto.GenerateSeed()
			if err != nil {
				return err
			}
			_, pub, err := crypto.KeyPairFromSeed(seed)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, []byte(crypto.EncodeKey(seed)+"\n"), 0o600); err != nil {
				return err
			}
			if err := os.WriteFile(pubOut, []byte(crypto.EncodeKey(pub)+"\n"), 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", out, pubOut)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "private key output path")
	cmd.Flags().StringVar(&pubOut, "pub", "", "public key output path (default <out>.pub)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

func newSignCmd() *cobra.Command {
	var keyPath, keyID, out string
	cmd := &cobra.Command{
		Use:   "sign <constitution.yaml>",
		Short: "Write a detached signature over a stamped constitution",
		Args:  exactArgs(1, "<constitution.yaml>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyPath == "" {
				return usageError{errors.New("--key is required")}
			}
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			hash, err := stampedHash(raw)
			if err != nil {
				return err
			}
			priv, _, err := crypto.LoadEd25519PrivateKey(keyPath)
			if err != nil {
				return fmt.Errorf("signing key: %w", err)
			}
			rec, err := crypto.SignDocument(hash, priv, keyID, time.Now())
			if err != nil {
				return err
			}
			body, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return err
			}
			body = append(body, '\n')

			if out == "" && args[0] != "-" {
				out = args[0] + ".sig.json"
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(body)
				return err
			}
			if err := os.WriteFile(out, body, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed doc_hash=%s key_id=%s -> %s\n", hash, rec.KeyID, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", envOrDefault("CHARTER_SIGNING_KEY_PATH", ""), "Ed25519 private key file")
	cmd.Flags().StringVar(&keyID, "key-id", "", "key id recorded in the signature")
	cmd.Flags().StringVar(&out, "out", "", "signature output path (default <doc>.sig.json, - for stdout)")
	return cmd
}

// stampedHash returns the document's digest after checking that the
// declared doc_hash matches it.
func stampedHash(raw []byte) (string, error) {
	tree, err := policy.ParseTree(raw)
	if err != nil {
		return "", err
	}
	hash, err := policy.ComputeDocHash(tree)
	if err != nil {
		return "", err
	}
	declared, _ := tree[policy.DocHashKey].(string)
	if declared == "" {
		return "", fmt.Errorf("%w; run charter stamp first", policy.ErrDocHashMissing)
	}
	if declared != hash {
		return "", fmt.Errorf("%w: declared %s, computed %s; run charter stamp first", policy.ErrDocHashMismatch, declared, hash)
	}
	return hash, nil
}

// constitutionFlags locate a signed constitution and its verifying key.
type constitutionFlags struct {
	doc string
	sig string
	pub string
}

func (f *constitutionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.doc, "doc", envOrDefault("CHARTER_CONSTITUTION_PATH", ""), "constitution YAML")
	cmd.Flags().StringVar(&f.sig, "sig", envOrDefault("CHARTER_SIGNATURE_PATH", ""), "detached signature (default <doc>.sig.json)")
	cmd.Flags().StringVar(&f.pub, "pub", envOrDefault("CHARTER_PUBLIC_KEY_PATH", ""), "Ed25519 public key")
}

func (f *constitutionFlags) paths() (doc, sig string, pub ed25519.PublicKey, err error) {
	if f.doc == "" || f.pub == "" {
		return "", "", nil, usageError{errors.New("--doc and --pub are required")}
	}
	sig = f.sig
	if sig == "" {
		sig = f.doc + ".sig.json"
	}
	pub, err = crypto.LoadEd25519PublicKey(f.pub)
	if err != nil {
		return "", "", nil, fmt.Errorf("public key: %w", err)
	}
	return f.doc, sig, pub, nil
}

// load verifies and loads the constitution into a fresh store.
func (f *constitutionFlags) load() (*policy.Store, error) {
	doc, sig, pub, err := f.paths()
	if err != nil {
		return nil, err
	}
	store := policy.NewStore(quietLogger())
	if _, err := store.LoadFiles(doc, sig, pub); err != nil {
		return nil, err
	}
	return store, nil
}

func newVerifyCmd() *cobra.Command {
	var cf constitutionFlags
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a constitution's doc_hash, signature and schema",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, sig, pub, err := cf.paths()
			if err != nil {
				return err
			}
			loaded, err := policy.ReadFiles(doc, sig, pub)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %v\n", failFmt("INVALID"), err)
				return failedError{err.Error()}
			}
			d := loaded.Document
			fmt.Fprintf(cmd.OutOrStdout(), "%s id=%s revision=%d doc_hash=%s key_id=%s\n",
				okFmt("OK"), d.ID, d.Revision, d.DocHash, loaded.Signature.KeyID)
			return nil
		},
	}
	cf.register(cmd)
	return cmd
}

func newLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <constitution.yaml>",
		Short: "Report every schema violation and a stale doc_hash",
		Args:  exactArgs(1, "<constitution.yaml>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			failed := false

			if _, err := stampedHash(raw); err != nil {
				fmt.Fprintf(w, "%s %v\n", warnFmt("integrity:"), err)
				failed = true
			}
			doc, err := policy.Parse(raw)
			if err != nil {
				for _, line := range strings.Split(err.Error(), "\n") {
					fmt.Fprintf(w, "%s %s\n", failFmt("schema:"), line)
				}
				return failedError{"lint failed"}
			}
			if failed {
				return failedError{"lint failed"}
			}
			fmt.Fprintf(w, "%s id=%s revision=%d rules=%d\n", okFmt("OK"), doc.ID, doc.Revision, len(doc.Rules))
			return nil
		},
	}
}
