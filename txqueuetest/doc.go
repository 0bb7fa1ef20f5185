// Package txqueuetest provides in-memory collaborators for exercising a txqueue.Queue without a database.
// Every fake can be told to fail a named operation with WillReturnError.
package txqueuetest
