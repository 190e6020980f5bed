package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDatabase(t *testing.T) *Database {
	t.Helper()

	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.CreateTables())
	return db
}

func TestCreateAndAuthenticateUser(t *testing.T) {
	db := testDatabase(t)

	user, err := db.CreateUser("ana", "secret")
	require.NoError(t, err)
	assert.Equal(t, "ana", user.Username)
	assert.NotEqual(t, "secret", user.PasswordHash, "password must be hashed")

	got, err := db.AuthenticateUser("ana", "secret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = db.AuthenticateUser("ana", "wrong")
	assert.Error(t, err)

	_, err = db.AuthenticateUser("nobody", "secret")
	assert.Error(t, err)
}

func TestDuplicateUsernameRejected(t *testing.T) {
	db := testDatabase(t)

	_, err := db.CreateUser("ana", "secret")
	require.NoError(t, err)

	_, err = db.CreateUser("ana", "other")
	assert.Error(t, err)
}

func TestSessionLifecycle(t *testing.T) {
	db := testDatabase(t)
	auth := NewAuthManager(db)

	user, err := db.CreateUser("ana", "secret")
	require.NoError(t, err)

	session, err := auth.CreateSession(user)
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)

	got, err := auth.ValidateSession(session.Token)
	require.NoError(t, err)
	assert.Equal(t, "ana", got.Username)

	auth.DeleteSession(session.Token)
	_, err = auth.ValidateSession(session.Token)
	assert.Error(t, err)

	_, err = auth.ValidateSession("bogus")
	assert.Error(t, err)
}
