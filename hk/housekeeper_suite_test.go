// Package hk provides a shared timer wheel for registering cleanup and
// deadline functions invoked at specified intervals.
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package hk_test

import (
	"testing"

	"github.com/duskforge/opcuacore/hk"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestHousekeeper(t *testing.T) {
	hk.TestInit()
	go hk.DefaultHK.Run()
	hk.WaitStarted()
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
