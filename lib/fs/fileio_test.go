// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fs

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
)

func TestSparseCreateAppendFinish(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(false)
	ctx := svc.NewContext()
	defer ctx.Close()

	tmp := filepath.Join(dir, TempName("hello.txt"))
	if err := ctx.CreateSparse(tmp, 5, 0644); err != nil {
		t.Fatalf("CreateSparse: %v", err)
	}
	if err := ctx.AppendBlock(tmp, 0, []byte("12345")); err != nil {
		t.Fatalf("AppendBlock: %v", err)
	}

	final := filepath.Join(dir, "hello.txt")
	if err := ctx.FinishFile(tmp, final, 0, 0, 0644, true); err != nil {
		t.Fatalf("FinishFile: %v", err)
	}

	data, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("read final: %v", err)
	}
	if string(data) != "12345" {
		t.Fatalf("got %q, want %q", data, "12345")
	}
}

func TestIsTempName(t *testing.T) {
	if !IsTempName(TempName("foo/bar.txt")) {
		t.Fatal("expected temp name to be recognized")
	}
	if IsTempName("foo/bar.txt") {
		t.Fatal("expected non-temp name to not be recognized")
	}
}

func TestCloneBlock(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(false)
	ctx := svc.NewContext()
	defer ctx.Close()

	src := filepath.Join(dir, "src.bin")
	if err := os.WriteFile(src, []byte("abcdefgh"), 0644); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(dir, "dst.bin")
	if err := ctx.CreateSparse(dst, 4, 0644); err != nil {
		t.Fatalf("CreateSparse: %v", err)
	}
	if err := ctx.CloneBlock(src, 2, dst, 0, 4); err != nil {
		t.Fatalf("CloneBlock: %v", err)
	}
	ctx.Close()

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "cdef" {
		t.Fatalf("got %q, want %q", data, "cdef")
	}
}

func TestVerifyBlock(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(false)
	ctx := svc.NewContext()
	defer ctx.Close()

	path := filepath.Join(dir, "partial.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}

	want := sha256.Sum256([]byte("45678"))
	if !ctx.VerifyBlock(path, 4, 5, want) {
		t.Fatal("expected matching block to verify")
	}

	var wrong [32]byte
	if ctx.VerifyBlock(path, 4, 5, wrong) {
		t.Fatal("expected mismatched hash to fail verification")
	}

	if ctx.VerifyBlock(path, 8, 5, want) {
		t.Fatal("expected out-of-range read to fail verification")
	}
}
