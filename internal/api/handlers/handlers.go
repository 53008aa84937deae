package handlers

import "time"

// timeLayout formats every timestamp field in the read API.
const timeLayout = time.RFC3339
