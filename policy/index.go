// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policy

import (
	"fmt"
	"sync"
)

// ScriptLoc identifies one derived script within a policy.
type ScriptLoc struct {
	Branch Branch
	Index  uint32
}

// ScriptIndex maintains the derived scripts of a policy up to a lookahead
// window past the highest used index of each branch, and answers reverse
// lookups from output script to derivation location. All methods are safe
// for concurrent use.
type ScriptIndex struct {
	mu sync.RWMutex

	desc *Descriptor

	// lookahead is the number of scripts kept derived past the highest
	// used index of each branch.
	lookahead uint32

	// nextUnused tracks the next unused index per branch.
	nextUnused map[Branch]uint32

	// derivedUpTo tracks the count of derived indices per branch.
	derivedUpTo map[Branch]uint32

	// byScript maps an output script to its derivation location.
	byScript map[string]ScriptLoc

	// byLoc mirrors byScript for forward lookups.
	byLoc map[ScriptLoc][]byte
}

// NewScriptIndex creates an index for the given policy and derives the
// initial lookahead window on both branches.
func NewScriptIndex(desc *Descriptor, lookahead uint32) (*ScriptIndex,
	error) {

	if lookahead == 0 {
		return nil, fmt.Errorf("%w: zero lookahead", ErrPolicyInvalid)
	}

	idx := &ScriptIndex{
		desc:        desc,
		lookahead:   lookahead,
		nextUnused:  make(map[Branch]uint32),
		derivedUpTo: make(map[Branch]uint32),
		byScript:    make(map[string]ScriptLoc),
		byLoc:       make(map[ScriptLoc][]byte),
	}

	for _, branch := range Branches {
		if err := idx.extendLocked(branch); err != nil {
			return nil, err
		}
	}

	return idx, nil
}

// Restore seeds the next-unused cursors from persisted state and refills
// the lookahead window past them.
func (s *ScriptIndex) Restore(cursors map[Branch]uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for branch, next := range cursors {
		s.nextUnused[branch] = next
	}

	for _, branch := range Branches {
		if err := s.extendLocked(branch); err != nil {
			return err
		}
	}

	return nil
}

// Classify reports whether the given output script belongs to the policy,
// and at which location. Scripts beyond the current lookahead window are
// reported as unowned.
func (s *ScriptIndex) Classify(script []byte) (ScriptLoc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loc, ok := s.byScript[string(script)]
	return loc, ok
}

// ScriptAt returns the derived output script at the given location,
// deriving and caching it if it lies past the current window.
func (s *ScriptIndex) ScriptAt(branch Branch, index uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := ScriptLoc{Branch: branch, Index: index}
	if script, ok := s.byLoc[loc]; ok {
		return script, nil
	}

	script, err := s.desc.ScriptAt(branch, index)
	if err != nil {
		return nil, err
	}

	s.byScript[string(script)] = loc
	s.byLoc[loc] = script

	return script, nil
}

// MarkUsed records that the script at the given location was seen on
// chain, advancing the branch cursor and refilling the lookahead window
// so discovery can continue past it.
func (s *ScriptIndex) MarkUsed(branch Branch, index uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index >= s.nextUnused[branch] {
		s.nextUnused[branch] = index + 1

		log.Debugf("Branch %v cursor advanced to %d", branch,
			s.nextUnused[branch])
	}

	return s.extendLocked(branch)
}

// NextUnused returns the next unused index of the given branch.
func (s *ScriptIndex) NextUnused(branch Branch) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.nextUnused[branch]
}

// WindowScripts returns every derived script of the given branch, ordered
// by index. This is the set handed to the chain source during discovery.
func (s *ScriptIndex) WindowScripts(branch Branch) [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scripts := make([][]byte, 0, s.derivedUpTo[branch])
	for index := uint32(0); index < s.derivedUpTo[branch]; index++ {
		loc := ScriptLoc{Branch: branch, Index: index}
		scripts = append(scripts, s.byLoc[loc])
	}

	return scripts
}

// AllScripts returns the derived scripts of both branches.
func (s *ScriptIndex) AllScripts() [][]byte {
	var scripts [][]byte
	for _, branch := range Branches {
		scripts = append(scripts, s.WindowScripts(branch)...)
	}

	return scripts
}

// extendLocked derives scripts until the window reaches lookahead
// positions past the next unused index. The caller must hold the write
// lock.
func (s *ScriptIndex) extendLocked(branch Branch) error {
	target := s.nextUnused[branch] + s.lookahead

	for index := s.derivedUpTo[branch]; index < target; index++ {
		loc := ScriptLoc{Branch: branch, Index: index}
		if _, ok := s.byLoc[loc]; ok {
			continue
		}

		script, err := s.desc.ScriptAt(branch, index)
		if err != nil {
			return err
		}

		s.byScript[string(script)] = loc
		s.byLoc[loc] = script
	}

	if target > s.derivedUpTo[branch] {
		s.derivedUpTo[branch] = target
	}

	return nil
}
