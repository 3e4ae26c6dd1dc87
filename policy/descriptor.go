// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package policy parses and evaluates spending-policy descriptors. A
// descriptor declares the key origins, script template and threshold for
// an account; the package derives output scripts from it, classifies
// scripts back to derivation paths, and reports which key slots must sign
// to satisfy the policy. Unsupported or malformed descriptors fail closed
// with ErrPolicyInvalid rather than silently matching.
package policy

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

var (
	// ErrPolicyInvalid is returned for any descriptor that cannot be
	// parsed or evaluated. Policy evaluation never degrades to a
	// best-effort match.
	ErrPolicyInvalid = errors.New("invalid spending policy")
)

// Branch identifies a derivation branch within an account.
type Branch uint32

const (
	// BranchExternal is the receive branch.
	BranchExternal Branch = 0

	// BranchInternal is the change branch.
	BranchInternal Branch = 1
)

// String returns the string representation of a branch.
func (b Branch) String() string {
	switch b {
	case BranchExternal:
		return "external"

	case BranchInternal:
		return "internal"

	default:
		return fmt.Sprintf("branch-%d", uint32(b))
	}
}

// Branches lists the derivation branches every account maintains.
var Branches = []Branch{BranchExternal, BranchInternal}

// Kind identifies the script template of a descriptor.
type Kind uint8

const (
	// KindP2PKH is a legacy pay-to-pubkey-hash single-key policy.
	KindP2PKH Kind = iota

	// KindP2WPKH is a native segwit single-key policy.
	KindP2WPKH

	// KindNestedP2WPKH is a p2wpkh nested in p2sh single-key policy.
	KindNestedP2WPKH

	// KindP2TR is a taproot key-spend single-key policy.
	KindP2TR

	// KindMulti is an n-of-m CHECKMULTISIG policy under p2wsh.
	KindMulti

	// KindCSV is a single-key policy guarded by a relative timelock
	// under p2wsh.
	KindCSV

	// KindCLTV is a single-key policy guarded by an absolute timelock
	// under p2wsh.
	KindCLTV
)

// String returns the string representation of a descriptor kind.
func (k Kind) String() string {
	switch k {
	case KindP2PKH:
		return "pkh"
	case KindP2WPKH:
		return "wpkh"
	case KindNestedP2WPKH:
		return "sh(wpkh)"
	case KindP2TR:
		return "tr"
	case KindMulti:
		return "wsh(multi)"
	case KindCSV:
		return "wsh(csv)"
	case KindCLTV:
		return "wsh(cltv)"
	default:
		return "unknown"
	}
}

// hardenedMarker is the offset of hardened child indexes in BIP32 paths.
const hardenedMarker uint32 = 0x80000000

// KeyOrigin is one ranged key expression inside a descriptor: the master
// fingerprint and hardened origin path recorded for signers, plus the
// account-level extended public key the branch/index steps are derived
// from.
type KeyOrigin struct {
	// Fingerprint is the fingerprint of the master key this xpub was
	// derived from, as recorded in the descriptor's origin info.
	Fingerprint [4]byte

	// OriginPath is the derivation path from the master key to the
	// account xpub. Hardened steps carry the hardened marker bit.
	OriginPath []uint32

	// Key is the account-level extended public key.
	Key *hdkeychain.ExtendedKey
}

// FullPath returns the complete derivation path from the master key to
// the address key at the given branch and index.
func (o *KeyOrigin) FullPath(branch Branch, index uint32) []uint32 {
	path := make([]uint32, 0, len(o.OriginPath)+2)
	path = append(path, o.OriginPath...)
	path = append(path, uint32(branch), index)

	return path
}

// KeySlot is a signing slot of a policy: the position the slot's
// signature occupies in the final witness and the key origin that must
// produce it.
type KeySlot struct {
	// Index is the slot's position, matching the key order of the
	// descriptor.
	Index int

	// Origin is the key expression filling the slot.
	Origin KeyOrigin
}

// Descriptor is a parsed, validated spending policy. It is immutable
// after Parse.
type Descriptor struct {
	kind      Kind
	keys      []KeyOrigin
	threshold int

	// lockValue is the older/after argument for timelocked kinds, zero
	// otherwise.
	lockValue uint32

	params *chaincfg.Params
	source string
}

// Kind returns the descriptor's script template kind.
func (d *Descriptor) Kind() Kind {
	return d.kind
}

// String returns the descriptor in its source form.
func (d *Descriptor) String() string {
	return d.source
}

// Threshold returns the number of signatures required to satisfy the
// policy.
func (d *Descriptor) Threshold() int {
	return d.threshold
}

// LockValue returns the older/after argument for timelocked policies and
// zero for the rest.
func (d *Descriptor) LockValue() uint32 {
	return d.lockValue
}

// RequiredSignatures returns the policy's signature threshold and the
// ordered key slots candidates must be drawn from. For CHECKMULTISIG
// policies the witness must present signatures in slot order, so callers
// drive signers in exactly this order.
func (d *Descriptor) RequiredSignatures() (int, []KeySlot) {
	slots := make([]KeySlot, len(d.keys))
	for i, origin := range d.keys {
		slots[i] = KeySlot{Index: i, Origin: origin}
	}

	return d.threshold, slots
}

// Parse parses a descriptor string into a validated Descriptor. The
// supported templates are pkh, wpkh, sh(wpkh), tr, wsh(multi(k,...)),
// wsh(and_v(v:pk(KEY),older(N))) and wsh(and_v(v:pk(KEY),after(N))).
// Ranged keys must use the combined branch form KEY/<0;1>/*. Anything
// else fails with ErrPolicyInvalid.
func Parse(desc string, params *chaincfg.Params) (*Descriptor, error) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return nil, fmt.Errorf("%w: empty descriptor", ErrPolicyInvalid)
	}

	name, inner, err := splitFunc(desc)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{
		params: params,
		source: desc,
	}

	switch name {
	case "pkh", "wpkh", "tr":
		origin, err := parseKeyExpr(inner, params)
		if err != nil {
			return nil, err
		}

		d.keys = []KeyOrigin{origin}
		d.threshold = 1

		switch name {
		case "pkh":
			d.kind = KindP2PKH
		case "wpkh":
			d.kind = KindP2WPKH
		case "tr":
			d.kind = KindP2TR
		}

	case "sh":
		// The only supported sh wrap is sh(wpkh(KEY)).
		innerName, innerArg, err := splitFunc(inner)
		if err != nil {
			return nil, err
		}
		if innerName != "wpkh" {
			return nil, fmt.Errorf("%w: unsupported sh(%s)",
				ErrPolicyInvalid, innerName)
		}

		origin, err := parseKeyExpr(innerArg, params)
		if err != nil {
			return nil, err
		}

		d.kind = KindNestedP2WPKH
		d.keys = []KeyOrigin{origin}
		d.threshold = 1

	case "wsh":
		err := parseWsh(d, inner, params)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: unsupported template %q",
			ErrPolicyInvalid, name)
	}

	return d, nil
}

// parseWsh parses the supported p2wsh policies: multi and the two
// timelocked single-key forms.
func parseWsh(d *Descriptor, inner string, params *chaincfg.Params) error {
	name, arg, err := splitFunc(inner)
	if err != nil {
		return err
	}

	switch name {
	case "multi":
		return parseMulti(d, arg, params)

	case "and_v":
		return parseTimelocked(d, arg, params)

	default:
		return fmt.Errorf("%w: unsupported wsh(%s)", ErrPolicyInvalid,
			name)
	}
}

// parseMulti parses multi(k,KEY,...) into an n-of-m policy.
func parseMulti(d *Descriptor, arg string, params *chaincfg.Params) error {
	parts, err := splitArgs(arg)
	if err != nil {
		return err
	}
	if len(parts) < 2 {
		return fmt.Errorf("%w: multi needs a threshold and at least "+
			"one key", ErrPolicyInvalid)
	}

	threshold, err := strconv.Atoi(parts[0])
	if err != nil || threshold < 1 {
		return fmt.Errorf("%w: bad multi threshold %q",
			ErrPolicyInvalid, parts[0])
	}

	keys := make([]KeyOrigin, 0, len(parts)-1)
	for _, expr := range parts[1:] {
		origin, err := parseKeyExpr(expr, params)
		if err != nil {
			return err
		}

		keys = append(keys, origin)
	}

	if threshold > len(keys) {
		return fmt.Errorf("%w: threshold %d exceeds %d keys",
			ErrPolicyInvalid, threshold, len(keys))
	}

	// CHECKMULTISIG is limited to 20 keys by consensus; standardness in
	// p2wsh caps useful policies well below that, but the consensus
	// bound is the fail-closed line.
	if len(keys) > 20 {
		return fmt.Errorf("%w: %d keys exceeds multisig limit",
			ErrPolicyInvalid, len(keys))
	}

	d.kind = KindMulti
	d.keys = keys
	d.threshold = threshold

	return nil
}

// parseTimelocked parses and_v(v:pk(KEY),older(N)) and
// and_v(v:pk(KEY),after(N)).
func parseTimelocked(d *Descriptor, arg string,
	params *chaincfg.Params) error {

	parts, err := splitArgs(arg)
	if err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("%w: and_v takes exactly two fragments",
			ErrPolicyInvalid)
	}

	// First fragment must be v:pk(KEY).
	pkFrag, ok := strings.CutPrefix(parts[0], "v:")
	if !ok {
		return fmt.Errorf("%w: first and_v fragment must be v:pk",
			ErrPolicyInvalid)
	}

	pkName, keyExpr, err := splitFunc(pkFrag)
	if err != nil {
		return err
	}
	if pkName != "pk" {
		return fmt.Errorf("%w: unsupported fragment %q",
			ErrPolicyInvalid, pkName)
	}

	origin, err := parseKeyExpr(keyExpr, params)
	if err != nil {
		return err
	}

	// Second fragment is the timelock.
	lockName, lockArg, err := splitFunc(parts[1])
	if err != nil {
		return err
	}

	lockValue, err := strconv.ParseUint(lockArg, 10, 32)
	if err != nil || lockValue == 0 {
		return fmt.Errorf("%w: bad timelock value %q",
			ErrPolicyInvalid, lockArg)
	}

	switch lockName {
	case "older":
		d.kind = KindCSV

	case "after":
		d.kind = KindCLTV

	default:
		return fmt.Errorf("%w: unsupported timelock %q",
			ErrPolicyInvalid, lockName)
	}

	d.keys = []KeyOrigin{origin}
	d.threshold = 1
	d.lockValue = uint32(lockValue)

	return nil
}

// splitFunc splits "name(inner)" into its name and inner argument,
// validating that the parentheses balance.
func splitFunc(expr string) (string, string, error) {
	open := strings.IndexByte(expr, '(')
	if open <= 0 || !strings.HasSuffix(expr, ")") {
		return "", "", fmt.Errorf("%w: malformed expression %q",
			ErrPolicyInvalid, expr)
	}

	return expr[:open], expr[open+1 : len(expr)-1], nil
}

// splitArgs splits a comma-separated argument list at the top nesting
// level only, so nested fragments keep their own commas.
func splitArgs(arg string) ([]string, error) {
	var (
		parts []string
		depth int
		start int
	)

	for i := 0; i < len(arg); i++ {
		switch arg[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unbalanced "+
					"parentheses", ErrPolicyInvalid)
			}
		case ',':
			if depth == 0 {
				parts = append(parts, arg[start:i])
				start = i + 1
			}
		}
	}

	if depth != 0 {
		return nil, fmt.Errorf("%w: unbalanced parentheses",
			ErrPolicyInvalid)
	}

	return append(parts, arg[start:]), nil
}

// parseKeyExpr parses a ranged key expression of the form
// [fingerprint/origin-path]xpub/<0;1>/*. The origin info is optional;
// the combined branch suffix is not.
func parseKeyExpr(expr string, params *chaincfg.Params) (KeyOrigin, error) {
	var origin KeyOrigin

	// Optional [fingerprint/path] origin prefix.
	if strings.HasPrefix(expr, "[") {
		end := strings.IndexByte(expr, ']')
		if end < 0 {
			return origin, fmt.Errorf("%w: unterminated key "+
				"origin", ErrPolicyInvalid)
		}

		err := parseOriginInfo(&origin, expr[1:end])
		if err != nil {
			return origin, err
		}

		expr = expr[end+1:]
	}

	// Mandatory combined branch suffix.
	keyStr, ok := strings.CutSuffix(expr, "/<0;1>/*")
	if !ok {
		return origin, fmt.Errorf("%w: key must be ranged with "+
			"/<0;1>/*", ErrPolicyInvalid)
	}

	key, err := hdkeychain.NewKeyFromString(keyStr)
	if err != nil {
		return origin, fmt.Errorf("%w: bad extended key: %v",
			ErrPolicyInvalid, err)
	}

	// Descriptors carry public material only; a private key here is a
	// policy error, not something to silently neuter.
	if key.IsPrivate() {
		return origin, fmt.Errorf("%w: descriptor contains a "+
			"private key", ErrPolicyInvalid)
	}

	if !key.IsForNet(params) {
		return origin, fmt.Errorf("%w: extended key is for another "+
			"network", ErrPolicyInvalid)
	}

	origin.Key = key

	return origin, nil
}

// parseOriginInfo parses "fingerprint/step/step..." origin info inside
// the square brackets of a key expression.
func parseOriginInfo(origin *KeyOrigin, info string) error {
	parts := strings.Split(info, "/")

	fp, err := hex.DecodeString(parts[0])
	if err != nil || len(fp) != 4 {
		return fmt.Errorf("%w: bad origin fingerprint %q",
			ErrPolicyInvalid, parts[0])
	}
	copy(origin.Fingerprint[:], fp)

	for _, step := range parts[1:] {
		hardened := false
		if s, ok := strings.CutSuffix(step, "'"); ok {
			hardened = true
			step = s
		} else if s, ok := strings.CutSuffix(step, "h"); ok {
			hardened = true
			step = s
		}

		value, err := strconv.ParseUint(step, 10, 32)
		if err != nil || uint32(value) >= hardenedMarker {
			return fmt.Errorf("%w: bad origin path step %q",
				ErrPolicyInvalid, step)
		}

		index := uint32(value)
		if hardened {
			index |= hardenedMarker
		}

		origin.OriginPath = append(origin.OriginPath, index)
	}

	return nil
}
