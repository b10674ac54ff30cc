package util_test

import (
	"testing"

	"github.com/agubarev/bolt/pkg/util"
	"github.com/stretchr/testify/assert"
)

func TestNewULID(t *testing.T) {
	a := assert.New(t)
	uid1 := util.NewULID()
	uid2 := util.NewULID()
	uid3 := util.NewULID()

	a.NotEqual(uid1, uid2)
	a.NotEqual(uid2, uid3)
	a.NotEqual(uid3, uid1)

	// monotonic within the process
	a.True(uid1.Compare(uid2) < 0)
	a.True(uid2.Compare(uid3) < 0)
}
