// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides credential and identifier generation.

# Admin Keys

Admin keys use HMAC-SHA256 to create deterministic, verifiable keys:

	adminKey := auth.GenerateAdminKey(electionID, salt)
	err := auth.ValidateAdminKey(electionID, adminKey, salt)

The key is URL-safe base64 encoded without padding. Since it's deterministic,
the same election ID and salt always produce the same key. This allows
validation without storing the key in the database. Handlers expect it in
the X-Admin-Key header.

# Invite Codes

Invite codes are drawn uniformly from [A-Za-z0-9] with crypto/rand:

	code, err := auth.GenerateInviteCode(models.InviteCodeLength)

Ten characters give roughly 59 bits of entropy. The draw only keeps
collisions rare; the unique index on election_invite.code enforces them.

# ID Generation

Random UUIDs for database records:

	id := auth.NewID()
*/
package auth
