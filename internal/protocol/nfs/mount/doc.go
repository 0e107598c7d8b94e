// Package mount is the client side of the NFS Mount protocol (RFC 1813
// Appendix I), the RPC program that hands out the root file handle of an
// export.
//
// Only the procedures a client needs are implemented:
//
//   - NULL: connectivity test
//   - MNT: obtain the root handle of an export path
//   - UMNT: drop the server's mount entry on disconnect
//
// MOUNT usually listens on its own port, found through the portmapper. No
// portmapper lookup is done here: callers pass the port explicitly, and it
// defaults to the NFS port, which is where DittoFS-style servers serve both
// programs.
//
// Example usage:
//
//	client := mount.NewClient(rpcClient)
//	resp, err := client.Mnt(ctx, "/export")
//	// resp.FileHandle is the export root
package mount
