// Package fundus holds the FUNDus! collection domain: the record and
// collection types, the Store and Embedder boundaries, the tool groups the
// specialist assistants work with, their instructions, and the store for
// user-uploaded images.
package fundus
