package sqlinline

const QInsertFigure = `--sql 932901b5-1d02-451d-8cc3-819172424225
insert into figures (id, owner_id, params, meta, status, cost_cents, created_at, updated_at)
values ($1::uuid, $2::text, $3::jsonb, coalesce($4::jsonb, '{}'::jsonb), 'queued', $5::int, now(), now())
returning created_at, updated_at;
`

const QSelectFigure = `--sql 15d984d3-a92d-4c4d-abfd-bbd7c77ea89c
select
    id::text,
    owner_id,
    params,
    meta,
    status,
    coalesce(result_image_ref, ''),
    coalesce(error_detail, ''),
    failed_at,
    cost_cents,
    created_at,
    updated_at
from figures
where id = $1::uuid;
`

const QListFiguresByOwner = `--sql d7f6c998-d493-4f5d-8042-97f97e55a0c0
select
    id::text,
    owner_id,
    params,
    meta,
    status,
    coalesce(result_image_ref, ''),
    coalesce(error_detail, ''),
    failed_at,
    cost_cents,
    created_at,
    updated_at
from figures
where owner_id = $1::text
order by created_at desc
limit $2::int;
`

const QMergeFigureMeta = `--sql 40c82501-78ec-46d1-9e48-3ce46cd7f995
update figures
set meta = meta || $2::jsonb,
    updated_at = now()
where id = $1::uuid;
`

const QMarkFigureDone = `--sql 5302e4af-d597-45d1-b9e7-1b030519e65a
update figures
set status = 'done',
    result_image_ref = $2::text,
    meta = meta || jsonb_build_object('processing_completed_at', $3::timestamptz),
    updated_at = now()
where id = $1::uuid
  and status = 'queued';
`

const QMarkFigureError = `--sql b069a055-1c28-4f13-ac85-736c79cd3e7a
update figures
set status = 'error',
    error_detail = $2::text,
    failed_at = $3::timestamptz,
    meta = meta || jsonb_build_object('processing_completed_at', $3::timestamptz),
    updated_at = now()
where id = $1::uuid
  and status = 'queued';
`
