// Package repository define las interfaces de repositorio de dominio y los
// tipos persistidos del gateway (consents, TPPs, access log).
//
// Las implementaciones concretas viven en internal/store/pg (PostgreSQL) e
// internal/store/memory (tests y modo dev).
//
//	┌─────────────────────────────────────────────────────┐
//	│     gateway / consent / trust / audit               │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	                        ▼
//	┌─────────────────────────────────────────────────────┐
//	│        domain/repository (interfaces)               │
//	│  ConsentRepository, ProviderRepository, AccessLog   │
//	└─────────────────────────────────────────────────────┘
//	                 │                 │
//	                 ▼                 ▼
//	          ┌─────────────┐   ┌─────────────┐
//	          │  store/pg   │   │ store/memory│
//	          └─────────────┘   └─────────────┘
//
// Convenciones:
//   - Context siempre es el primer parámetro
//   - Los campos sensibles llegan ya cifrados (sufijo Enc); el repositorio no
//     conoce claves
//   - Errores de dominio están en errors.go
package repository
