// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session provides the widget's session identity: a stable
// opaque token created once per installation and attached to every
// backend request so the backend can correlate one client's
// conversation context across messages and restarts.
package session
