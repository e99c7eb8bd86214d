/*
Package keychain is the secure item store: typed get/set/remove/exists over a
platform secret store, addressed by Item descriptors.

# Items

An Item names a slot, the kind of value it holds, and the access Policy
required to touch it. Policies are fixed per item and recorded with every
write. All enumerates the full registry so that Reset and migrations address
every item.

# Drivers

A Driver is the platform boundary. The drivers subpackages provide an
in-memory driver, a SQLite driver and a bbolt driver. When a Sealer is
configured, values are encrypted before they reach the driver and the item
name and account are bound in as additional data.

# Errors

Driver failures surface as *StoreError carrying a Status. Malformed stored
data surfaces as *DecodeError. Neither is retryable. Single-value accessors
return ErrNotFound for absent items.
*/
package keychain
