/*
The sync package implements pairsync's reconciliation algorithm. It keeps two
flat file collections, one on each peer, convergent by exchanging only the
files each side lacks.

There are two roles:
1) The Initiator proposes the names of all the files it holds.
2) The Responder compares those names against its own Index, and replies with
   either "synced", the names it's missing, or a container holding the files
   the Initiator is missing (plus the names the Responder is missing).

The Initiator then writes what it received, and uploads whatever the Responder
reported missing. A file is identified only by its name: if both peers hold a
file with the same name, the contents are assumed to be identical and are never
compared.

The Index is the in-memory copy of a peer's collection. It's built once from
the Store at startup and then mutated in place by the Executor as entries
arrive.
*/
package sync
